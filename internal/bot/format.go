package bot

import (
	"fmt"
	"sort"
	"strings"

	"schedbot/internal/timetable"
)

const (
	textNotPublished = "📭 Расписание еще не опубликовано"
	notifyHeader     = "🔔 <b>РАСПИСАНИЕ ОБНОВЛЕНО!</b>"
)

// FormatGroup renders one group's day.
func FormatGroup(snap *timetable.Snapshot, group string) string {
	if snap == nil {
		return textNotPublished
	}
	sched, ok := snap.Schedule(group)
	if !ok {
		return formatGroupMissing(group)
	}
	if len(sched) == 0 {
		return fmt.Sprintf("📭 У группы %s пар нет\n\n%s", B(group), I("(или все пары отменены)"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s\n👥 Группа: %s\n\n", B(snap.Date), B(group))
	for _, e := range sched {
		fmt.Fprintf(&b, "📚 %s\n", B(e.PairNumber+" пара"))
		fmt.Fprintf(&b, "   📖 %s\n", Esc(e.Subject))
		if e.Teacher != "" {
			fmt.Fprintf(&b, "   👨‍🏫 %s\n", I(e.Teacher))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatNotification is the change notice sent by the monitor.
func FormatNotification(snap *timetable.Snapshot, group string) string {
	return notifyHeader + "\n\n" + FormatGroup(snap, group)
}

func formatGroupMissing(group string) string {
	return fmt.Sprintf("⚠️ Группа %s не найдена в расписании\n%s",
		B(group), I("Возможно, её нет на сегодня или название указано неверно"))
}

// FormatGroupList is the /setgroup listing.
func FormatGroupList(names []string) string {
	if len(names) == 0 {
		return "⚠️ Не удалось загрузить список групп.\nУкажи группу вручную: " + Code("/setgroup ИС-1-23").String()
	}
	var b strings.Builder
	b.WriteString("📋 <b>Доступные группы:</b>\n\n")
	for _, g := range names {
		fmt.Fprintf(&b, "• %s\n", Code(g))
	}
	fmt.Fprintf(&b, "\n💡 Пример: %s", Code("/setgroup "+names[0]))
	return b.String()
}

// FormatTeacher renders the lessons of one teacher across groups.
func FormatTeacher(name string, byGroup map[string][]timetable.ClassEntry, date string) string {
	if len(byGroup) == 0 {
		return fmt.Sprintf("😕 Преподаватель с фамилией %s не найден в расписании на сегодня", B(name))
	}
	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s\n👨‍🏫 Расписание преподавателя: %s\n\n", B(date), B(name))
	for _, g := range groups {
		fmt.Fprintf(&b, "👥 %s\n", B(g))
		for _, e := range byGroup[g] {
			fmt.Fprintf(&b, "   📚 %s пара — %s\n", Esc(e.PairNumber), Esc(e.Subject))
		}
		b.WriteString("\n")
	}
	b.WriteString(I(fmt.Sprintf("Всего пар: %d", timetable.CountEntries(byGroup))).String())
	return b.String()
}
