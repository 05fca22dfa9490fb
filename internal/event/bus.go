package event

import "sync"

// Bus is a synchronous in-process fan-out of Events. Subscribers are invoked
// on the publisher's goroutine and must return quickly; anything slow
// (network publish, disk write) belongs behind the subscriber's own queue.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for all future events and returns an unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// PublishDetection is a convenience wrapper around Publish.
func (b *Bus) PublishDetection(d Detection) {
	b.Publish(Event{Detection: &d})
}

// PublishEscalation is a convenience wrapper around Publish.
func (b *Bus) PublishEscalation(e Escalation) {
	b.Publish(Event{Escalation: &e})
}
