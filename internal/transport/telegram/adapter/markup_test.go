package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	lines := strings.Repeat("строка\n", 10) // 70 runes
	got := splitTelegramText(lines, 30, "")
	for i, c := range got {
		if n := len([]rune(c)); n > 30 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasSuffix(c, "\n") || strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk %d not trimmed: %q", i, c)
		}
	}
	if joined := strings.Join(got, "\n"); joined != strings.TrimRight(lines, "\n") {
		t.Fatalf("rejoined = %q", joined)
	}

	html := strings.Repeat("a", 8) + "<b>bold</b>"
	got = splitTelegramText(html, 10, tele.ModeHTML)
	if got[0] != strings.Repeat("a", 8) {
		t.Fatalf("HTML split cut inside tag: %q", got)
	}
}

func TestRenderKeyboard(t *testing.T) {
	t.Parallel()

	if rm := renderKeyboard(nil); rm != nil {
		t.Fatalf("nil keyboard = %+v, want nil", rm)
	}

	inline := renderKeyboard(&kit.Keyboard{Inline: true, Rows: [][]kit.Button{{{Text: "A", Data: "a"}, {Text: "B", Data: "b"}}}})
	if len(inline.InlineKeyboard) != 1 || inline.InlineKeyboard[0][1].Data != "b" {
		t.Fatalf("inline = %+v", inline.InlineKeyboard)
	}
	if len(inline.ReplyKeyboard) != 0 {
		t.Fatal("inline keyboard rendered reply rows")
	}

	reply := renderKeyboard(&kit.Keyboard{Rows: [][]kit.Button{{{Text: "📅 Расписание"}}, {{Text: "⚙️ Прочее"}}}})
	if len(reply.ReplyKeyboard) != 2 || !reply.ResizeKeyboard {
		t.Fatalf("reply = %+v", reply)
	}
	if got := reply.ReplyKeyboard[1][0].Text; got != "⚙️ Прочее" {
		t.Fatalf("reply button = %q", got)
	}
}

func TestMenuHashChangesWithContent(t *testing.T) {
	t.Parallel()
	a := menuHash([]kit.BotCommand{{Command: "start", Description: "x"}})
	b := menuHash([]kit.BotCommand{{Command: "start", Description: "y"}})
	if a == b {
		t.Fatal("menuHash ignores description")
	}
	if truncateRunes("привет", 3) != "при" {
		t.Fatalf("truncateRunes = %q", truncateRunes("привет", 3))
	}
}
