package monitor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"schedbot/internal/timetable"
)

// GroupHash fingerprints one group's lesson sequence. Reordering lessons
// changes it.
type GroupHash [sha256.Size]byte

func (h GroupHash) String() string { return hex.EncodeToString(h[:8]) }

// HashGroup digests entries field by field in order. Every field is length
// prefixed so ("ab","c") and ("a","bc") differ.
func HashGroup(s timetable.GroupSchedule) GroupHash {
	d := sha256.New()
	var n [8]byte
	put := func(v string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		d.Write(n[:])
		d.Write([]byte(v))
	}
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	d.Write(n[:])
	for _, e := range s {
		put(e.PairNumber)
		put(e.Subject)
		put(e.Teacher)
	}
	var h GroupHash
	copy(h[:], d.Sum(nil))
	return h
}

// State is the monitor's memory between cycles. It is owned by a single loop
// and is not safe for concurrent use.
type State struct {
	hashes map[string]GroupHash
}

func NewState() *State {
	return &State{hashes: map[string]GroupHash{}}
}

// Warm reports whether a previous cycle left any hashes behind.
func (s *State) Warm() bool { return len(s.hashes) > 0 }

func (s *State) Len() int { return len(s.hashes) }

// Hash returns the held hash of group.
func (s *State) Hash(group string) (GroupHash, bool) {
	h, ok := s.hashes[group]
	return h, ok
}

// Transition is a computed but not yet applied state change.
type Transition struct {
	Changed []string
	next    map[string]GroupHash
}

// Plan diffs snap against the held hashes without modifying state.
// A group is changed when its hash differs from the held one, or when it is
// new and the state was already warm.
func (s *State) Plan(snap *timetable.Snapshot) Transition {
	warm := s.Warm()
	next := make(map[string]GroupHash, len(snap.Groups))
	changed := []string{}
	for g, sched := range snap.Groups {
		h := HashGroup(sched)
		next[g] = h
		prev, seen := s.hashes[g]
		switch {
		case seen && prev != h:
			changed = append(changed, g)
		case !seen && warm:
			changed = append(changed, g)
		}
	}
	sort.Strings(changed)
	return Transition{Changed: changed, next: next}
}

// Apply replaces the held hashes wholesale; groups absent from the planned
// snapshot are forgotten.
func (s *State) Apply(t Transition) {
	if t.next == nil {
		t.next = map[string]GroupHash{}
	}
	s.hashes = t.next
}

// Advance plans and applies in one step and returns the changed groups.
func (s *State) Advance(snap *timetable.Snapshot) []string {
	t := s.Plan(snap)
	s.Apply(t)
	return t.Changed
}
