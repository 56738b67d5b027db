package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the monitor.
const (
	TypeSourceUnavailable = "monitor.unavailable"
	TypeScheduleChanged   = "monitor.changed"
	TypeDeliveryFailed    = "monitor.delivery_failed"
	TypeCycleDone         = "monitor.cycle_done"
)

// Event is an in-memory signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ChangedData accompanies TypeScheduleChanged.
type ChangedData struct {
	CycleID string
	Groups  []string
	Date    string
}

// DeliveryFailedData accompanies TypeDeliveryFailed.
type DeliveryFailedData struct {
	CycleID     string
	RecipientID int64
	Err         string
}

// CycleData accompanies TypeCycleDone and TypeSourceUnavailable.
type CycleData struct {
	CycleID   string
	Changed   int
	Delivered int
	Failed    int
	Err       string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{} // empty means all
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// a concurrent unsubscribe may close ch under us
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a buffered listener. With no types it receives everything.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
