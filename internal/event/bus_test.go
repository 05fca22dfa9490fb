package event

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	b := NewBus()

	var got1, got2 []Event
	b.Subscribe(func(ev Event) { got1 = append(got1, ev) })
	b.Subscribe(func(ev Event) { got2 = append(got2, ev) })

	b.PublishDetection(Detection{Kind: KindScream, Timestamp: time.Now()})

	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("subscriber deliveries = %d, %d, want 1, 1", len(got1), len(got2))
	}
	if got1[0].Detection == nil || got1[0].Detection.Kind != KindScream {
		t.Errorf("unexpected event: %+v", got1[0])
	}
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBus()

	var n int
	unsub := b.Subscribe(func(Event) { n++ })

	b.PublishDetection(Detection{Kind: KindManual})
	unsub()
	unsub() // second call is a no-op
	b.PublishDetection(Detection{Kind: KindManual})

	if n != 1 {
		t.Errorf("deliveries after unsubscribe = %d, want 1", n)
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBus()
	b.PublishEscalation(Escalation{State: "idle"}) // must not panic
}
