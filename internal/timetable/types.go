// Package timetable turns the college day-schedule page into per-group lesson
// lists and answers teacher queries over the result.
package timetable

import (
	"errors"
	"sort"
)

// ErrUnavailable means there is no usable schedule right now: an empty page,
// a page without the schedule table, or a requested group that is absent.
// Callers treat it as "try again later".
var ErrUnavailable = errors.New("timetable: schedule unavailable")

// DateUnspecified is used when no date line could be found.
const DateUnspecified = "Дата не указана"

// ClassEntry is one lesson slot. Teacher may be empty.
type ClassEntry struct {
	PairNumber string `json:"pair_number"`
	Subject    string `json:"subject"`
	Teacher    string `json:"teacher,omitempty"`
}

// GroupSchedule keeps lessons in page order.
type GroupSchedule []ClassEntry

// Snapshot is the result of one parse. It is never modified after Parse returns.
// A group present with an empty schedule has no lessons today.
type Snapshot struct {
	Date   string                   `json:"date"`
	Groups map[string]GroupSchedule `json:"groups"`
}

// GroupNames returns the group names in ascending order.
func (s *Snapshot) GroupNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Groups))
	for g := range s.Groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// Filter returns a view holding only group. The schedule slice is shared.
func (s *Snapshot) Filter(group string) (*Snapshot, bool) {
	if s == nil {
		return nil, false
	}
	sched, ok := s.Groups[group]
	if !ok {
		return nil, false
	}
	return &Snapshot{Date: s.Date, Groups: map[string]GroupSchedule{group: sched}}, true
}

// Schedule reports the lessons of group and whether the group is present.
func (s *Snapshot) Schedule(group string) (GroupSchedule, bool) {
	if s == nil {
		return nil, false
	}
	sched, ok := s.Groups[group]
	return sched, ok
}
