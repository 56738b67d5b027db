package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
)

const telegramTextLimit = 4000

// renderKeyboard turns neutral markup into telebot markup. Nil in, nil out.
func renderKeyboard(kb *kit.Keyboard) *tele.ReplyMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	if kb.Inline {
		rows := make([][]tele.InlineButton, 0, len(kb.Rows))
		for _, r := range kb.Rows {
			row := make([]tele.InlineButton, 0, len(r))
			for _, b := range r {
				row = append(row, tele.InlineButton{Text: b.Text, Data: b.Data})
			}
			rows = append(rows, row)
		}
		rm.InlineKeyboard = rows
		return rm
	}
	rows := make([][]tele.ReplyButton, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		row := make([]tele.ReplyButton, 0, len(r))
		for _, b := range r {
			row = append(row, tele.ReplyButton{Text: b.Text})
		}
		rows = append(rows, row)
	}
	rm.ReplyKeyboard = rows
	rm.ResizeKeyboard = true
	return rm
}

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, in HTML mode, avoids cutting inside a tag.
// The result always has at least one element.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}
