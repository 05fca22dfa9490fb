package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore wraps Memory, failing every call once armed.
type failingStore struct {
	*Memory
	down bool
}

var errRemoteDown = errors.New("remote down")

func (f *failingStore) Profile(ctx context.Context) (Profile, error) {
	if f.down {
		return Profile{}, errRemoteDown
	}
	return f.Memory.Profile(ctx)
}

func (f *failingStore) SaveContacts(ctx context.Context, contacts []Contact) error {
	if f.down {
		return errRemoteDown
	}
	return f.Memory.SaveContacts(ctx, contacts)
}

func (f *failingStore) EmergencyEvents(ctx context.Context, limit int) ([]EmergencyEvent, error) {
	if f.down {
		return nil, errRemoteDown
	}
	return f.Memory.EmergencyEvents(ctx, limit)
}

func (f *failingStore) AppendEmergencyEvent(ctx context.Context, e EmergencyEvent) error {
	if f.down {
		return errRemoteDown
	}
	return f.Memory.AppendEmergencyEvent(ctx, e)
}

func TestCachedWarmAndCacheFirstRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := &failingStore{Memory: NewMemory()}
	remote.SaveContacts(ctx, []Contact{{ID: "c1", Name: "Mom", Phone: "+919876543210"}})

	c := NewCached(remote, nil)
	if err := c.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	// Remote goes down; the cached profile must still serve.
	remote.down = true
	p, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile with remote down: %v", err)
	}
	if len(p.Contacts) != 1 || p.Contacts[0].Name != "Mom" {
		t.Errorf("unexpected cached contacts: %+v", p.Contacts)
	}
}

func TestCachedWarmEmptyRemote(t *testing.T) {
	t.Parallel()

	c := NewCached(&failingStore{Memory: NewMemory()}, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm on empty remote: %v", err)
	}
}

func TestCachedWriteThroughKeepsLocalOnRemoteFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := &failingStore{Memory: NewMemory(), down: true}
	c := NewCached(remote, nil)

	err := c.SaveContacts(ctx, []Contact{{ID: "c1", Name: "Asha", Phone: "+919812345678"}})
	if !errors.Is(err, errRemoteDown) {
		t.Fatalf("SaveContacts error = %v, want remote failure surfaced", err)
	}

	// The local copy still answers reads.
	p, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if len(p.Contacts) != 1 || p.Contacts[0].Name != "Asha" {
		t.Errorf("cache lost write: %+v", p.Contacts)
	}
}

func TestCachedHistoryFallsBackToLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := &failingStore{Memory: NewMemory(), down: true}
	c := NewCached(remote, nil)

	ev := EmergencyEvent{ID: "e1", Reason: "voice", Outcome: "completed", StartedAt: time.Now()}
	if err := c.AppendEmergencyEvent(ctx, ev); !errors.Is(err, errRemoteDown) {
		t.Fatalf("AppendEmergencyEvent error = %v, want remote failure surfaced", err)
	}

	got, err := c.EmergencyEvents(ctx, 10)
	if err != nil {
		t.Fatalf("EmergencyEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("local history fallback missing event: %+v", got)
	}
}
