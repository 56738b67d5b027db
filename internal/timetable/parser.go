package timetable

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	logx "schedbot/pkg/logx"
)

// Markup conventions of the schedule page.
const (
	dateContainerStyle = "width:980px"
	scheduleTableSel   = "table.border"
	contentCellStyle   = "overflow"
	noClassMarker      = "нет"
	noClassMaxRunes    = 15
	groupNameMinRunes  = 3
	groupNameMaxRunes  = 15
	unknownPair        = "?"
)

// monthTokens are genitive month names as they appear in the date line.
var monthTokens = []string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

type parseOptions struct {
	group string
	log   logx.Logger
}

type ParseOption func(*parseOptions)

// WithGroup restricts the snapshot to one group; Parse returns ErrUnavailable
// when that group is not on the page.
func WithGroup(name string) ParseOption {
	return func(o *parseOptions) { o.group = name }
}

func WithLogger(log logx.Logger) ParseOption {
	return func(o *parseOptions) { o.log = log }
}

// Parse builds a Snapshot from the raw page. Markup anomalies inside a block
// drop single entries and never fail the parse.
func Parse(raw string, opts ...ParseOption) (*Snapshot, error) {
	var o parseOptions
	for _, fn := range opts {
		fn(&o)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrUnavailable)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	date := extractDate(doc)
	table := doc.Find(scheduleTableSel).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: schedule table not found", ErrUnavailable)
	}

	groups := parseBlocks(table, o.log)
	o.log.Debug("schedule parsed", logx.String("date", date), logx.Int("groups", len(groups)))

	snap := &Snapshot{Date: date, Groups: groups}
	if o.group == "" {
		return snap, nil
	}
	filtered, ok := snap.Filter(o.group)
	if !ok {
		return nil, fmt.Errorf("%w: group %q not found", ErrUnavailable, o.group)
	}
	return filtered, nil
}

func extractDate(doc *goquery.Document) string {
	box := doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return styleContains(s, dateContainerStyle)
	}).First()
	if box.Length() == 0 {
		return DateUnspecified
	}
	lower := cases.Lower(language.Russian)
	for _, line := range strings.Split(box.Text(), "\n") {
		l := lower.String(line)
		for _, m := range monthTokens {
			if strings.Contains(l, m) {
				return strings.TrimSpace(line)
			}
		}
	}
	return DateUnspecified
}

// ownRows returns the rows of table itself, skipping rows of nested lesson tables.
func ownRows(table *goquery.Selection) []*goquery.Selection {
	var rows []*goquery.Selection
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Closest("table").IsSelection(table) {
			rows = append(rows, tr)
		}
	})
	return rows
}

func parseBlocks(table *goquery.Selection, log logx.Logger) map[string]GroupSchedule {
	rows := ownRows(table)
	groups := make(map[string]GroupSchedule)
	block := 0

	for i := 0; i < len(rows); {
		names := blockGroups(rows[i])
		if len(names) == 0 {
			i++
			continue
		}
		block++
		for _, g := range names {
			if _, ok := groups[g]; !ok {
				groups[g] = GroupSchedule{}
			}
		}
		log.Debug("schedule block", logx.Int("block", block), logx.Strings("groups", names))

		if i+1 >= len(rows) {
			i++
			continue
		}
		// content cells map positionally onto the qualifying header names
		rows[i+1].ChildrenFiltered("td").EachWithBreak(func(col int, cell *goquery.Selection) bool {
			if col >= len(names) {
				return false
			}
			g := names[col]
			groups[g] = append(groups[g], cellEntries(cell)...)
			return true
		})
		i += 2
	}
	return groups
}

// blockGroups returns the header cells of row that look like group names.
func blockGroups(row *goquery.Selection) []string {
	var names []string
	row.ChildrenFiltered("th").Each(func(_ int, th *goquery.Selection) {
		name := strictText(th, "")
		if looksLikeGroup(name) {
			names = append(names, name)
		}
	})
	return names
}

// looksLikeGroup: 3..15 runes with at least one letter and one digit.
func looksLikeGroup(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < groupNameMinRunes || n > groupNameMaxRunes {
		return false
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func cellEntries(cell *goquery.Selection) []ClassEntry {
	var out []ClassEntry
	cell.Find("table").Each(func(_ int, slot *goquery.Selection) {
		if e, ok := slotEntry(slot); ok {
			out = append(out, e)
		}
	})
	return out
}

func slotEntry(slot *goquery.Selection) (ClassEntry, bool) {
	pair := unknownPair
	if th := slot.Find("th").First(); th.Length() > 0 {
		pair = strictText(th, "")
	}

	content := slot.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
		return styleContains(td, contentCellStyle)
	}).First()
	if content.Length() == 0 {
		return ClassEntry{}, false
	}

	teacher := ""
	if small := content.Find("small").First(); small.Length() > 0 {
		teacher = strictText(small, "")
	}
	subject := strictText(content, " ")
	if teacher != "" {
		subject = strings.TrimSpace(strings.ReplaceAll(subject, teacher, ""))
	}
	if isNoClass(subject) {
		return ClassEntry{}, false
	}
	return ClassEntry{PairNumber: pair, Subject: subject, Teacher: teacher}, true
}

// isNoClass matches short placeholders such as "нет" or "Пары нет".
func isNoClass(subject string) bool {
	if utf8.RuneCountInString(subject) >= noClassMaxRunes {
		return false
	}
	return strings.Contains(cases.Lower(language.Russian).String(subject), noClassMarker)
}

func styleContains(s *goquery.Selection, marker string) bool {
	style, ok := s.Attr("style")
	return ok && strings.Contains(style, marker)
}

// strictText joins the trimmed, non-empty text nodes under s with sep.
func strictText(s *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}
