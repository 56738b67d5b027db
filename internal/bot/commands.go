package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	logx "schedbot/pkg/logx"
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "Перезапустить бота", Handle: b.cmdStart},
		{Name: "menu", Description: "Главное меню", Handle: b.cmdMenu},
		{Name: "today", Description: "Расписание на сегодня", Heavy: true, Handle: b.cmdToday},
		{Name: "teacher", Description: "Поиск преподавателя", Usage: "/teacher <фамилия>", Heavy: true, Handle: b.cmdTeacher},
		{Name: "setgroup", Description: "Установить основную группу", Usage: "/setgroup <группа>", Handle: b.cmdSetGroup},
		{Name: "mygroup", Description: "Показать основную группу", Handle: b.cmdMyGroup},
		{Name: "addgroup", Description: "Добавить доп. группу", Usage: "/addgroup <группа>", Handle: b.cmdAddGroup},
		{Name: "removegroup", Description: "Удалить доп. группу", Usage: "/removegroup <группа>", Handle: b.cmdRemoveGroup},
		{Name: "mygroups", Description: "Все отслеживаемые группы", Handle: b.cmdMyGroups},
		{Name: "subscribe", Description: "Подписаться на обновления", Handle: b.cmdSubscribe},
		{Name: "unsubscribe", Description: "Отписаться", Handle: b.cmdUnsubscribe},
		{Name: "help", Description: "Все команды бота", Handle: b.cmdHelp},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	name := req.Username
	if name == "" {
		name = "друг"
	}
	text := Lines(
		H("👋 "+B("Привет, "+name+"! Я бот расписания ЛНТ").String()),
		"",
		H("👇 "+B("Используй кнопки внизу для навигации:").String()),
		H("📅 "+B("Расписание").String()+" — твои пары и поиск преподавателей"),
		H("👥 "+B("Группы").String()+" — управление твоими группами"),
		H("⚙️ "+B("Прочее").String()+" — подписка и помощь"),
	)
	return b.reply(ctx, req, text.String(), mainKeyboard())
}

func (b *Bot) cmdMenu(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, "📋 "+B("Главное меню").String(), mainKeyboard())
}

// cmdToday sends one message per tracked group, main group first.
func (b *Bot) cmdToday(ctx context.Context, req *Request) error {
	groups, err := b.store.TrackedGroups(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("tracked groups: %w", err)
	}
	if len(groups) == 0 {
		return b.reply(ctx, req, "❌ Группа не выбрана\n\nСначала выбери группу: /setgroup", nil)
	}
	snap, ok, err := b.schedule(ctx, req)
	if !ok {
		return err
	}
	sent := 0
	for _, g := range groups {
		if _, found := snap.Schedule(g); !found {
			if err := b.reply(ctx, req, formatGroupMissing(g), nil); err != nil {
				return err
			}
			continue
		}
		if err := b.reply(ctx, req, FormatGroup(snap, g), nil); err != nil {
			return err
		}
		sent++
	}
	if sent == 0 {
		return b.reply(ctx, req, "📭 Расписание для ваших групп не найдено\n\nПроверьте названия групп: /mygroups", nil)
	}
	return nil
}

func (b *Bot) cmdTeacher(ctx context.Context, req *Request) error {
	query := req.ArgText()
	if query == "" {
		return b.reply(ctx, req, Lines(
			H("🔍 "+B("Поиск по преподавателю").String()),
			"",
			"Укажи фамилию преподавателя:",
			Code("/teacher Иванов"),
			"",
			I("Поиск ищет по части фамилии"),
		).String(), nil)
	}
	snap, ok, err := b.schedule(ctx, req)
	if !ok {
		return err
	}
	found := timetable.SearchTeachers(query, snap)
	switch len(found) {
	case 0:
		return b.reply(ctx, req, fmt.Sprintf("😕 Преподаватель %s не найден в расписании на сегодня.", B(query)), nil)
	case 1:
		return b.reply(ctx, req, FormatTeacher(found[0], timetable.FindTeacherSchedule(found[0], snap), snap.Date), nil)
	default:
		text := fmt.Sprintf("🔎 Найдено несколько преподавателей по запросу %s.\nВыберите нужного:", B(query))
		return b.reply(ctx, req, text, teacherKeyboard(found))
	}
}

func (b *Bot) cmdSetGroup(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		snap, err := b.sched.Get(ctx)
		if err != nil {
			req.Logger.Debug("group list unavailable", logx.Err(err))
			return b.reply(ctx, req, FormatGroupList(nil), nil)
		}
		return b.reply(ctx, req, FormatGroupList(snap.GroupNames()), nil)
	}
	group := subscribers.NormalizeGroupName(req.ArgText())
	if err := b.store.SetMainGroup(ctx, req.FromID, group); err != nil {
		if errors.Is(err, subscribers.ErrInvalidGroup) {
			return b.reply(ctx, req, fmt.Sprintf("❌ %s\n%s\n\nПопробуй еще раз: %s",
				B("Ошибка валидации:"), Esc(subscribers.Reason(err)), Code("/setgroup ИС-1-23")), nil)
		}
		return err
	}
	req.Logger.Info("main group set", logx.String("group", group))
	return b.reply(ctx, req, fmt.Sprintf("✅ %s\n\nПроверь расписание: /today", B("Группа установлена: "+group)), nil)
}

func (b *Bot) cmdMyGroup(ctx context.Context, req *Request) error {
	u, err := b.store.User(ctx, req.FromID)
	if err != nil && !errors.Is(err, subscribers.ErrNotFound) {
		return err
	}
	if u.MainGroup == "" {
		return b.reply(ctx, req, "❌ Группа не выбрана\n\nВыбери группу: /setgroup", nil)
	}
	return b.reply(ctx, req, fmt.Sprintf("👥 Твоя группа: %s\n\nИзменить: %s", B(u.MainGroup), Code("/setgroup НОВАЯ_ГРУППА")), nil)
}

func (b *Bot) cmdAddGroup(ctx context.Context, req *Request) error {
	limit := b.cfg.MaxExtraGroups
	if len(req.Args) == 0 {
		return b.reply(ctx, req, Lines(
			H("➕ "+B("Добавить дополнительную группу").String()),
			"",
			"Укажи название группы:",
			Code("/addgroup ИС-1-23"),
			"",
			I(fmt.Sprintf("Можно добавить до %d доп. групп", limit)),
		).String(), nil)
	}
	group := subscribers.NormalizeGroupName(req.ArgText())
	err := b.store.AddExtraGroup(ctx, req.FromID, group)
	switch {
	case errors.Is(err, subscribers.ErrInvalidGroup):
		return b.reply(ctx, req, fmt.Sprintf("❌ %s %s", B("Ошибка:"), Esc(subscribers.Reason(err))), nil)
	case errors.Is(err, subscribers.ErrLimitReached):
		return b.reply(ctx, req, fmt.Sprintf("❌ Достигнут лимит дополнительных групп (%d)\n\nУдали ненужную группу: %s", limit, Code("/removegroup ГРУППА")), nil)
	case errors.Is(err, subscribers.ErrAlreadyTracked):
		return b.reply(ctx, req, b.alreadyTrackedText(ctx, req, group), nil)
	case err != nil:
		return err
	}

	extras, err := b.store.ExtraGroups(ctx, req.FromID)
	if err != nil {
		return err
	}
	req.Logger.Info("extra group added", logx.String("group", group))
	return b.reply(ctx, req, fmt.Sprintf("✅ Группа %s добавлена!\n\n📋 Доп. группы (%d/%d):\n%s\n\nПроверь расписание: /today",
		B(group), len(extras), limit, bulletCodes(extras)), nil)
}

func (b *Bot) alreadyTrackedText(ctx context.Context, req *Request, group string) string {
	if u, err := b.store.User(ctx, req.FromID); err == nil && u.MainGroup == group {
		return fmt.Sprintf("⚠️ %s уже установлена как основная группа", B(group))
	}
	return fmt.Sprintf("⚠️ Группа %s уже добавлена", B(group))
}

func (b *Bot) cmdRemoveGroup(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		extras, err := b.store.ExtraGroups(ctx, req.FromID)
		if err != nil {
			return err
		}
		if len(extras) == 0 {
			return b.reply(ctx, req, "📋 У тебя нет дополнительных групп\n\nДобавь: "+Code("/addgroup ГРУППА").String(), nil)
		}
		return b.reply(ctx, req, fmt.Sprintf("➖ %s\n\nТвои доп. группы:\n%s\n\nПример: %s",
			B("Удалить дополнительную группу"), bulletCodes(extras), Code("/removegroup "+extras[0])), nil)
	}
	group := subscribers.NormalizeGroupName(req.ArgText())
	err := b.store.RemoveExtraGroup(ctx, req.FromID, group)
	switch {
	case errors.Is(err, subscribers.ErrNotFound):
		return b.reply(ctx, req, fmt.Sprintf("❌ Группа %s не найдена в твоих доп. группах", B(group)), nil)
	case err != nil:
		return err
	}
	req.Logger.Info("extra group removed", logx.String("group", group))
	return b.reply(ctx, req, fmt.Sprintf("✅ Группа %s удалена", B(group)), nil)
}

func (b *Bot) cmdMyGroups(ctx context.Context, req *Request) error {
	u, err := b.store.User(ctx, req.FromID)
	if err != nil && !errors.Is(err, subscribers.ErrNotFound) {
		return err
	}
	extras, err := b.store.ExtraGroups(ctx, req.FromID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("👥 " + B("Твои группы:").String() + "\n\n")
	if u.MainGroup != "" {
		sb.WriteString("🏠 Основная: " + B(u.MainGroup).String() + "\n")
	} else {
		sb.WriteString("🏠 Основная: " + I("не выбрана").String() + "\n")
	}
	if len(extras) > 0 {
		fmt.Fprintf(&sb, "\n📋 Дополнительные (%d/%d):\n%s\n", len(extras), b.cfg.MaxExtraGroups, bulletCodes(extras))
	} else {
		sb.WriteString("\n" + I("Дополнительных групп нет").String() + "\n")
	}
	sb.WriteString("\n" + B("Управление:").String() + "\n")
	sb.WriteString(Code("/setgroup").String() + " — изменить основную\n")
	sb.WriteString(Code("/addgroup").String() + " — добавить доп.\n")
	sb.WriteString(Code("/removegroup").String() + " — удалить доп.")
	return b.reply(ctx, req, sb.String(), nil)
}

func (b *Bot) cmdSubscribe(ctx context.Context, req *Request) error {
	if _, err := b.store.Subscribe(ctx, req.FromID); err != nil {
		return err
	}
	req.Logger.Info("subscribed")
	return b.reply(ctx, req, fmt.Sprintf("✅ %s\n\nПроверяю сайт каждые %d минут.\nПришлю уведомление когда появится расписание.",
		B("Подписка активирована!"), int(b.pollInterval().Minutes())), nil)
}

func (b *Bot) cmdUnsubscribe(ctx context.Context, req *Request) error {
	if _, err := b.store.Unsubscribe(ctx, req.FromID); err != nil {
		return err
	}
	req.Logger.Info("unsubscribed")
	return b.reply(ctx, req, "❌ Подписка отменена", nil)
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, b.helpText(), nil)
}

func (b *Bot) helpText() string {
	sections := []struct {
		title string
		cmds  []string
	}{
		{"📱 Навигация:", []string{"start"}},
		{"📅 Расписание:", []string{"today", "teacher"}},
		{"👥 Группы:", []string{"setgroup", "mygroup", "addgroup", "removegroup", "mygroups"}},
		{"🔔 Уведомления:", []string{"subscribe", "unsubscribe"}},
	}
	var sb strings.Builder
	sb.WriteString("📖 " + B("Все команды бота:").String() + "\n\n")
	for _, s := range sections {
		sb.WriteString(B(s.title).String() + "\n")
		for _, name := range s.cmds {
			c := b.cmds[name]
			usage := c.Usage
			if usage == "" {
				usage = "/" + c.Name
			}
			sb.WriteString(Code(usage).String() + " — " + Esc(strings.ToLower(c.Description)).String() + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(I(fmt.Sprintf("Бот проверяет сайт каждые %d минут", int(b.pollInterval().Minutes()))).String())
	return sb.String()
}

func bulletCodes(items []string) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "• "+Code(it).String())
	}
	return strings.Join(lines, "\n")
}
