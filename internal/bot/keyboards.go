package bot

import (
	"unicode/utf8"

	kit "schedbot/internal/transport"
)

// Reply keyboard labels.
const (
	BtnSchedule = "📅 Расписание"
	BtnGroups   = "👥 Группы"
	BtnOther    = "⚙️ Прочее"
)

// Callback payloads.
const (
	cbShowMySchedule     = "show_my_schedule"
	cbStartTeacherSearch = "start_teacher_search"
	cbTeacherSearch      = "teacher_search" // older clients
	cbAddGroup           = "add_group"
	cbRemoveGroup        = "remove_group"
	cbSetMainGroup       = "set_main_group"
	cbSubscribe          = "subscribe"
	cbUnsubscribe        = "unsubscribe"
	cbHelp               = "help"

	cbSelectTeacherPrefix = "sel_teacher_"
	cbRemoveGroupPrefix   = "rmg_"
)

// Telegram rejects callback data over 64 bytes.
const maxCallbackData = 64

func mainKeyboard() *kit.Keyboard {
	return &kit.Keyboard{Rows: [][]kit.Button{
		{{Text: BtnSchedule}},
		{{Text: BtnGroups}, {Text: BtnOther}},
	}}
}

func scheduleKeyboard() *kit.Keyboard {
	return &kit.Keyboard{Inline: true, Rows: [][]kit.Button{
		{{Text: "🎓 Моя группа", Data: cbShowMySchedule}},
		{{Text: "👨‍🏫 Поиск преподавателя", Data: cbStartTeacherSearch}},
	}}
}

func groupsKeyboard() *kit.Keyboard {
	return &kit.Keyboard{Inline: true, Rows: [][]kit.Button{
		{{Text: "➕ Добавить", Data: cbAddGroup}, {Text: "➖ Удалить", Data: cbRemoveGroup}},
		{{Text: "🏠 Изменить основную", Data: cbSetMainGroup}},
	}}
}

func otherKeyboard(subscribed bool) *kit.Keyboard {
	sub := kit.Button{Text: "🔔 Подписаться", Data: cbSubscribe}
	if subscribed {
		sub = kit.Button{Text: "🔕 Отписаться", Data: cbUnsubscribe}
	}
	return &kit.Keyboard{Inline: true, Rows: [][]kit.Button{
		{sub},
		{{Text: "ℹ️ Помощь", Data: cbHelp}},
	}}
}

func teacherKeyboard(names []string) *kit.Keyboard {
	kb := &kit.Keyboard{Inline: true}
	for _, n := range names {
		kb.Rows = append(kb.Rows, []kit.Button{{Text: n, Data: callbackData(cbSelectTeacherPrefix, n)}})
	}
	return kb
}

func removeGroupKeyboard(groups []string) *kit.Keyboard {
	kb := &kit.Keyboard{Inline: true}
	for _, g := range groups {
		kb.Rows = append(kb.Rows, []kit.Button{{Text: "❌ " + g, Data: callbackData(cbRemoveGroupPrefix, g)}})
	}
	return kb
}

// callbackData joins prefix and value, cutting value on a rune boundary to
// fit the Telegram limit. Teacher lookup matches by containment, so a cut
// name still finds its lessons.
func callbackData(prefix, value string) string {
	data := prefix + value
	for len(data) > maxCallbackData {
		_, size := utf8.DecodeLastRuneInString(data)
		data = data[:len(data)-size]
	}
	return data
}
