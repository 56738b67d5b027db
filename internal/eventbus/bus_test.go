package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	changed, unsubChanged := b.Subscribe(4, TypeScheduleChanged)
	defer unsubChanged()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeDeliveryFailed, Data: DeliveryFailedData{RecipientID: 7}})
	b.Publish(Event{Type: TypeScheduleChanged, Data: ChangedData{Groups: []string{"A"}}})

	e := <-changed
	if e.Type != TypeScheduleChanged {
		t.Fatalf("filtered type = %q, want %q", e.Type, TypeScheduleChanged)
	}
	if e.Time.IsZero() {
		t.Fatal("expected Publish to stamp time")
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered buffered = %d, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TypeCycleDone})
	b.Publish(Event{Type: TypeCycleDone})
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: TypeCycleDone})
}
