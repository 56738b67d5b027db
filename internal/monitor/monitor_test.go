package monitor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	logx "schedbot/pkg/logx"
)

type pageFetcher struct {
	mu    sync.Mutex
	pages []string
	errs  []error
	calls int
}

func (f *pageFetcher) Fetch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.pages)-1)
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.pages[i], nil
}

type sent struct {
	to   int64
	text string
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]bool
}

func (s *recordingSink) Deliver(_ context.Context, id int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return errors.New("bot was blocked by the user")
	}
	s.sent = append(s.sent, sent{to: id, text: text})
	return nil
}

func (s *recordingSink) snapshot() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]sent(nil), s.sent...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].to != out[j].to {
			return out[i].to < out[j].to
		}
		return out[i].text < out[j].text
	})
	return out
}

// page renders a minimal schedule page: one block with one lesson per group.
func page(subjects map[string]string) string {
	names := make([]string, 0, len(subjects))
	for g := range subjects {
		names = append(names, g)
	}
	sort.Strings(names)
	var head, body strings.Builder
	for _, g := range names {
		head.WriteString("<th>" + g + "</th>")
		body.WriteString(`<td><table><tr><th>1</th><td style="overflow:hidden">` + subjects[g] + `</td></tr></table></td>`)
	}
	return `<div style="width:980px">17 ноября</div><table class="border"><tr>` + head.String() + `</tr><tr>` + body.String() + `</tr></table>`
}

func formatGroup(snap *timetable.Snapshot, group string) string {
	one, _ := snap.Filter(group)
	var parts []string
	for _, e := range one.Groups[group] {
		parts = append(parts, e.Subject)
	}
	return group + ":" + strings.Join(parts, ",")
}

func newTestMonitor(f Fetcher, store subscribers.Reader, sink Sink, bus eventbus.Bus) *Monitor {
	return New(Deps{Fetcher: f, Store: store, Sink: sink, Formatter: formatGroup, Bus: bus},
		Config{Workers: 3, RatePerSec: 1000, RetryMax: 1, RetryDelay: time.Millisecond}, logx.Nop())
}

func TestHashGroupDeterministicAndOrderSensitive(t *testing.T) {
	t.Parallel()
	a := timetable.ClassEntry{PairNumber: "1", Subject: "Математика", Teacher: "Иванов"}
	b := timetable.ClassEntry{PairNumber: "2", Subject: "Физика"}

	if HashGroup(timetable.GroupSchedule{a, b}) != HashGroup(timetable.GroupSchedule{a, b}) {
		t.Fatal("hash is not deterministic")
	}
	if HashGroup(timetable.GroupSchedule{a, b}) == HashGroup(timetable.GroupSchedule{b, a}) {
		t.Fatal("reordered entries produced the same hash")
	}
	x := timetable.ClassEntry{PairNumber: "1", Subject: "ab", Teacher: "c"}
	y := timetable.ClassEntry{PairNumber: "1", Subject: "a", Teacher: "bc"}
	if HashGroup(timetable.GroupSchedule{x}) == HashGroup(timetable.GroupSchedule{y}) {
		t.Fatal("field boundaries are ambiguous")
	}

	raw := page(map[string]string{"ИС-21": "Химия", "ПК-22": "Право"})
	s1, err := timetable.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s2, _ := timetable.Parse(raw)
	for g := range s1.Groups {
		if HashGroup(s1.Groups[g]) != HashGroup(s2.Groups[g]) {
			t.Fatalf("hash of %s differs between parses", g)
		}
	}
}

func snap(groups map[string]string) *timetable.Snapshot {
	s := &timetable.Snapshot{Date: "d", Groups: map[string]timetable.GroupSchedule{}}
	for g, subj := range groups {
		s.Groups[g] = timetable.GroupSchedule{{PairNumber: "1", Subject: subj}}
	}
	return s
}

func TestStateColdStartAndChanges(t *testing.T) {
	t.Parallel()
	st := NewState()
	if st.Warm() {
		t.Fatal("new state is warm")
	}
	if got := st.Advance(snap(map[string]string{"G1": "a", "G2": "b"})); len(got) != 0 {
		t.Fatalf("cold cycle changed = %v, want none", got)
	}
	if got := st.Advance(snap(map[string]string{"G1": "a", "G2": "b"})); len(got) != 0 {
		t.Fatalf("identical cycle changed = %v, want none", got)
	}
	if got := st.Advance(snap(map[string]string{"G1": "a2", "G2": "b"})); !reflect.DeepEqual(got, []string{"G1"}) {
		t.Fatalf("changed = %v, want [G1]", got)
	}
	// a new group on a warm state counts as changed
	if got := st.Advance(snap(map[string]string{"G1": "a2", "G2": "b", "G3": "c"})); !reflect.DeepEqual(got, []string{"G3"}) {
		t.Fatalf("changed = %v, want [G3]", got)
	}
	// G3 disappears, then reappears unchanged: it is new again
	st.Advance(snap(map[string]string{"G1": "a2", "G2": "b"}))
	if _, ok := st.Hash("G3"); ok {
		t.Fatal("dropped group still held")
	}
	if got := st.Advance(snap(map[string]string{"G1": "a2", "G2": "b", "G3": "c"})); !reflect.DeepEqual(got, []string{"G3"}) {
		t.Fatalf("reappeared = %v, want [G3]", got)
	}
}

func TestStateEmptySnapshotStaysCold(t *testing.T) {
	t.Parallel()
	st := NewState()
	st.Advance(snap(nil))
	if got := st.Advance(snap(map[string]string{"G1": "a"})); len(got) != 0 {
		t.Fatalf("changed after empty first cycle = %v, want none", got)
	}
}

func TestRunOnceNotifiesOnlyTrackers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscribers.NewMemory(4)
	_ = store.SetMainGroup(ctx, 1, "ИС-21")
	_, _ = store.Subscribe(ctx, 1)
	_ = store.SetMainGroup(ctx, 2, "ПК-22")
	_, _ = store.Subscribe(ctx, 2)
	// tracks ИС-21 as an extra but is not subscribed
	_ = store.AddExtraGroup(ctx, 3, "ИС-21")

	f := &pageFetcher{pages: []string{
		page(map[string]string{"ИС-21": "Химия", "ПК-22": "Право"}),
		page(map[string]string{"ИС-21": "Химия", "ПК-22": "Право"}),
		page(map[string]string{"ИС-21": "Физика", "ПК-22": "Право"}),
	}}
	sink := &recordingSink{}
	m := newTestMonitor(f, store, sink, nil)

	for i := 0; i < 2; i++ {
		rep, err := m.RunOnce(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if len(rep.Changed) != 0 || len(rep.Deliveries) != 0 {
			t.Fatalf("cycle %d: changed=%v deliveries=%d", i, rep.Changed, len(rep.Deliveries))
		}
	}
	rep, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if !reflect.DeepEqual(rep.Changed, []string{"ИС-21"}) {
		t.Fatalf("changed = %v, want [ИС-21]", rep.Changed)
	}
	want := []sent{{to: 1, text: "ИС-21:Физика"}}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %+v, want %+v", got, want)
	}
	if rep.Subscribers != 2 {
		t.Fatalf("subscribers = %d, want 2", rep.Subscribers)
	}
}

func TestRunOnceIsolatesDeliveryFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscribers.NewMemory(4)
	for id := int64(1); id <= 4; id++ {
		_ = store.SetMainGroup(ctx, id, "G-1")
		_ = store.AddExtraGroup(ctx, id, "G-2")
		_, _ = store.Subscribe(ctx, id)
	}
	f := &pageFetcher{pages: []string{
		page(map[string]string{"G-1": "a", "G-2": "b"}),
		page(map[string]string{"G-1": "a2", "G-2": "b2"}),
		page(map[string]string{"G-1": "a2", "G-2": "b2"}),
	}}
	sink := &recordingSink{fail: map[int64]bool{2: true}}
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(16, eventbus.TypeDeliveryFailed)
	defer unsub()
	m := newTestMonitor(f, store, sink, bus)

	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("cold cycle: %v", err)
	}
	rep, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(rep.Deliveries) != 8 {
		t.Fatalf("deliveries = %d, want 8", len(rep.Deliveries))
	}
	if rep.Failed() != 2 {
		t.Fatalf("failed = %d, want 2", rep.Failed())
	}
	for _, d := range rep.Deliveries {
		if d.RecipientID == 2 && (d.Outcome != DeliveryFailed || d.Attempts != 2) {
			t.Fatalf("recipient 2 delivery = %+v, want failed after 2 attempts", d)
		}
	}
	if got := len(sink.snapshot()); got != 6 {
		t.Fatalf("sent = %d, want 6", got)
	}
	if len(failures) != 2 {
		t.Fatalf("delivery_failed events = %d, want 2", len(failures))
	}
	// failures do not keep the change pending
	rep, _ = m.RunOnce(ctx)
	if len(rep.Changed) != 0 {
		t.Fatalf("changed after failed deliveries = %v, want none", rep.Changed)
	}
}

func TestRunOnceUnavailableKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscribers.NewMemory(4)
	_ = store.SetMainGroup(ctx, 1, "G-1")
	_, _ = store.Subscribe(ctx, 1)

	f := &pageFetcher{
		pages: []string{
			page(map[string]string{"G-1": "a"}),
			"",
			"",
			page(map[string]string{"G-1": "b"}),
		},
		errs: []error{nil, nil, fmt.Errorf("dial tcp: connection refused")},
	}
	sink := &recordingSink{}
	m := newTestMonitor(f, store, sink, nil)

	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	for i := 2; i <= 3; i++ {
		if _, err := m.RunOnce(ctx); !errors.Is(err, timetable.ErrUnavailable) {
			t.Fatalf("cycle %d err = %v, want ErrUnavailable", i, err)
		}
	}
	if st := m.Status(); !st.Warm || st.LastOutcome != "unavailable" {
		t.Fatalf("status = %+v", st)
	}
	rep, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("cycle 4: %v", err)
	}
	if !reflect.DeepEqual(rep.Changed, []string{"G-1"}) || len(sink.snapshot()) != 1 {
		t.Fatalf("changed = %v sent = %d", rep.Changed, len(sink.snapshot()))
	}
}

type failingReader struct{ subscribers.Reader }

func (failingReader) ListSubscribers(context.Context) ([]int64, error) {
	return nil, errors.New("db down")
}

func TestRunOnceStoreErrorRetriesChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &pageFetcher{pages: []string{
		page(map[string]string{"G-1": "a"}),
		page(map[string]string{"G-1": "b"}),
	}}
	m := newTestMonitor(f, failingReader{}, &recordingSink{}, nil)

	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	for i := 0; i < 2; i++ {
		rep, err := m.RunOnce(ctx)
		if err == nil {
			t.Fatal("expected store error")
		}
		if !reflect.DeepEqual(rep.Changed, []string{"G-1"}) {
			t.Fatalf("attempt %d changed = %v, want [G-1]", i, rep.Changed)
		}
	}
}

type blockingFetcher struct{ release chan struct{} }

func (b blockingFetcher) Fetch(ctx context.Context) (string, error) {
	<-b.release
	return "", nil
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	t.Parallel()
	bf := blockingFetcher{release: make(chan struct{})}
	m := newTestMonitor(bf, subscribers.NewMemory(4), &recordingSink{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.RunOnce(context.Background())
	}()
	deadline := time.Now().Add(time.Second)
	for !m.busy.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := m.RunOnce(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping RunOnce err = %v, want ErrBusy", err)
	}
	close(bf.release)
	<-done
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := &pageFetcher{pages: []string{page(map[string]string{"G-1": "a"})}}
	m := newTestMonitor(f, subscribers.NewMemory(4), &recordingSink{}, nil)
	m.SetInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want deadline exceeded", err)
	}
	if st := m.Status(); st.Cycles < 2 || st.Running {
		t.Fatalf("status = %+v", st)
	}
}
