package timetable

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func fold(s string) string { return cases.Lower(language.Russian).String(s) }

// Teachers lists distinct non-empty teacher names, sorted.
func Teachers(snap *Snapshot) []string {
	if snap == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, sched := range snap.Groups {
		for _, e := range sched {
			if e.Teacher != "" {
				seen[e.Teacher] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SearchTeachers returns teachers whose name equals query ignoring case.
// Only when there is no such name does it fall back to substring matches.
// The result is sorted and empty (not nil) when nothing matches.
func SearchTeachers(query string, snap *Snapshot) []string {
	q := fold(strings.TrimSpace(query))
	all := Teachers(snap)

	exact := []string{}
	partial := []string{}
	for _, t := range all {
		ft := fold(t)
		switch {
		case ft == q:
			exact = append(exact, t)
		case strings.Contains(ft, q):
			partial = append(partial, t)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return partial
}

// FindTeacherSchedule collects, per group, the entries taught by name. An entry
// matches when its teacher equals name, contains it, or is contained in it,
// ignoring case. Entries without a teacher never match; groups without
// matches are left out.
func FindTeacherSchedule(name string, snap *Snapshot) map[string][]ClassEntry {
	out := make(map[string][]ClassEntry)
	if snap == nil {
		return out
	}
	n := fold(strings.TrimSpace(name))
	if n == "" {
		return out
	}
	for g, sched := range snap.Groups {
		for _, e := range sched {
			if e.Teacher == "" {
				continue
			}
			t := fold(e.Teacher)
			if t == n || strings.Contains(t, n) || strings.Contains(n, t) {
				out[g] = append(out[g], e)
			}
		}
	}
	return out
}

// CountEntries totals entries across groups of a FindTeacherSchedule result.
func CountEntries(m map[string][]ClassEntry) int {
	total := 0
	for _, es := range m {
		total += len(es)
	}
	return total
}
