package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// handleButton serves the reply-keyboard labels and any other plain text.
func (b *Bot) handleButton(ctx context.Context, req *Request) error {
	switch req.ArgText() {
	case BtnSchedule:
		return b.reply(ctx, req, "Выберите действие:", scheduleKeyboard())
	case BtnGroups:
		return b.showGroups(ctx, req)
	case BtnOther:
		return b.showOther(ctx, req)
	default:
		return b.reply(ctx, req, "🤔 Не понял команду.\nВот главное меню:", mainKeyboard())
	}
}

func (b *Bot) showGroups(ctx context.Context, req *Request) error {
	u, err := b.store.User(ctx, req.FromID)
	if err != nil && !errors.Is(err, subscribers.ErrNotFound) {
		return err
	}
	extras, err := b.store.ExtraGroups(ctx, req.FromID)
	if err != nil {
		return err
	}
	mainGroup := u.MainGroup
	if mainGroup == "" {
		mainGroup = "не выбрана"
	}
	extra := I("нет")
	if len(extras) > 0 {
		extra = Esc(strings.Join(extras, ", "))
	}
	text := fmt.Sprintf("👥 %s\n\n🏠 Основная: %s\n📋 Дополнительные: %s", B("Управление группами"), B(mainGroup), extra)
	return b.reply(ctx, req, text, groupsKeyboard())
}

func (b *Bot) showOther(ctx context.Context, req *Request) error {
	subscribed, err := b.store.IsSubscribed(ctx, req.FromID)
	if err != nil {
		return err
	}
	status := "❌ Подписка выключена"
	if subscribed {
		status = "✅ Подписка активна"
	}
	text := fmt.Sprintf("⚙️ %s\n\nСтатус подписки: %s", B("Прочее"), status)
	return b.reply(ctx, req, text, otherKeyboard(subscribed))
}

func (b *Bot) callbackHandlers() map[string]HandlerFunc {
	teacherHint := func(ctx context.Context, req *Request) error {
		return b.reply(ctx, req, "Для поиска преподавателя введите команду:\n"+Code("/teacher Фамилия").String(), nil)
	}
	return map[string]HandlerFunc{
		cbShowMySchedule:     b.withCooldown(b.cmdToday),
		cbStartTeacherSearch: teacherHint,
		cbTeacherSearch:      teacherHint,
		cbAddGroup: func(ctx context.Context, req *Request) error {
			return b.reply(ctx, req, "Для добавления группы введите:\n"+Code("/addgroup Группа").String(), nil)
		},
		cbRemoveGroup: b.cbRemoveGroupList,
		cbSetMainGroup: func(ctx context.Context, req *Request) error {
			return b.reply(ctx, req, "Для изменения основной группы введите:\n"+Code("/setgroup Группа").String(), nil)
		},
		cbSubscribe: func(ctx context.Context, req *Request) error {
			if _, err := b.store.Subscribe(ctx, req.FromID); err != nil {
				return err
			}
			req.Logger.Info("subscribed")
			return b.showOther(ctx, req)
		},
		cbUnsubscribe: func(ctx context.Context, req *Request) error {
			if _, err := b.store.Unsubscribe(ctx, req.FromID); err != nil {
				return err
			}
			req.Logger.Info("unsubscribed")
			return b.showOther(ctx, req)
		},
		cbHelp: b.cmdHelp,
	}
}

func (b *Bot) callbackPrefixes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		cbSelectTeacherPrefix: b.withCooldown(b.cbSelectTeacher),
		cbRemoveGroupPrefix:   b.cbRemoveGroup,
	}
}

func (b *Bot) cbSelectTeacher(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(req.Payload)
	if name == "" {
		return nil
	}
	snap, ok, err := b.schedule(ctx, req)
	if !ok {
		return err
	}
	return b.reply(ctx, req, FormatTeacher(name, timetable.FindTeacherSchedule(name, snap), snap.Date), nil)
}

func (b *Bot) cbRemoveGroupList(ctx context.Context, req *Request) error {
	extras, err := b.store.ExtraGroups(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(extras) == 0 {
		return b.reply(ctx, req, "У вас нет дополнительных групп для удаления.", nil)
	}
	return b.reply(ctx, req, "Выберите группу для удаления:", removeGroupKeyboard(extras))
}

// cbRemoveGroup edits the picker message in place with the outcome.
func (b *Bot) cbRemoveGroup(ctx context.Context, req *Request) error {
	group := req.Payload
	text := fmt.Sprintf("✅ Группа %s удалена.", Esc(group))
	switch err := b.store.RemoveExtraGroup(ctx, req.FromID, group); {
	case errors.Is(err, subscribers.ErrNotFound):
		text = fmt.Sprintf("❌ Не удалось удалить группу %s.", Esc(group))
	case err != nil:
		return err
	default:
		req.Logger.Info("extra group removed", logx.String("group", group))
	}
	return b.adapter.EditText(ctx, req.Source, text, &kit.SendOptions{ParseMode: tele.ModeHTML})
}
