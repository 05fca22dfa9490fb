// Package registry owns the emergency contact list and the detected local
// services. All mutations go through it; the escalation sequencer only ever
// reads immutable snapshots. Changes are persisted through the store as a
// whole-array rewrite.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kavach-app/kavach/internal/store"
)

const (
	// MaxContacts is the hard cap on emergency contacts.
	MaxContacts = 5
	// MaxServices is the hard cap on detected local services.
	MaxServices = 2
	// SnapshotSize is how many contacts an escalation session works through.
	SnapshotSize = 3
)

var (
	ErrContactLimit    = errors.New("registry: contact limit reached")
	ErrServiceLimit    = errors.New("registry: service limit reached")
	ErrContactNotFound = errors.New("registry: contact not found")
	ErrInvalidContact  = errors.New("registry: invalid contact")
)

// DefaultServices are used until detection finds local ones. 1091 is the
// national women's helpline, 100 the police.
var DefaultServices = []store.Service{
	{Kind: "police", Name: "Police", Phone: "100"},
	{Kind: "helpline", Name: "Women Helpline", Phone: "1091"},
}

// Registry is the contact/service registry. Safe for concurrent use.
type Registry struct {
	st store.Store

	mu       sync.RWMutex
	contacts []store.Contact
	services []store.Service
}

// New returns a Registry backed by st, seeded with DefaultServices.
func New(st store.Store) *Registry {
	return &Registry{
		st:       st,
		services: append([]store.Service(nil), DefaultServices...),
	}
}

// Restore loads persisted contacts and services. A missing profile leaves
// the defaults in place.
func (r *Registry) Restore(ctx context.Context) error {
	p, err := r.st.Profile(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("registry: restore: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts = append([]store.Contact(nil), p.Contacts...)
	if len(p.Services) > 0 {
		r.services = append([]store.Service(nil), p.Services...)
	}
	return nil
}

// AddContact validates, assigns an ID, appends, and persists. The contact
// count never exceeds MaxContacts.
func (r *Registry) AddContact(ctx context.Context, c store.Contact) (store.Contact, error) {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return store.Contact{}, fmt.Errorf("%w: name and phone are required", ErrInvalidContact)
	}

	r.mu.Lock()
	if len(r.contacts) >= MaxContacts {
		r.mu.Unlock()
		return store.Contact{}, ErrContactLimit
	}
	c.ID = uuid.NewString()
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	r.contacts = append(r.contacts, c)
	snapshot := append([]store.Contact(nil), r.contacts...)
	r.mu.Unlock()

	if err := r.st.SaveContacts(ctx, snapshot); err != nil {
		return c, fmt.Errorf("registry: persist contacts: %w", err)
	}
	return c, nil
}

// RemoveContact deletes the contact with the given ID and persists.
func (r *Registry) RemoveContact(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := -1
	for i, c := range r.contacts {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrContactNotFound
	}
	r.contacts = append(r.contacts[:idx], r.contacts[idx+1:]...)
	snapshot := append([]store.Contact(nil), r.contacts...)
	r.mu.Unlock()

	if err := r.st.SaveContacts(ctx, snapshot); err != nil {
		return fmt.Errorf("registry: persist contacts: %w", err)
	}
	return nil
}

// UpdateContact replaces the stored contact with the same ID and persists.
func (r *Registry) UpdateContact(ctx context.Context, c store.Contact) error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return fmt.Errorf("%w: name and phone are required", ErrInvalidContact)
	}

	r.mu.Lock()
	idx := -1
	for i, existing := range r.contacts {
		if existing.ID == c.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrContactNotFound
	}
	c.AddedAt = r.contacts[idx].AddedAt
	r.contacts[idx] = c
	snapshot := append([]store.Contact(nil), r.contacts...)
	r.mu.Unlock()

	if err := r.st.SaveContacts(ctx, snapshot); err != nil {
		return fmt.Errorf("registry: persist contacts: %w", err)
	}
	return nil
}

// Contacts returns all contacts in escalation order: explicit priorities
// ascending first, then unprioritized contacts in insertion order.
func (r *Registry) Contacts() []store.Contact {
	r.mu.RLock()
	out := append([]store.Contact(nil), r.contacts...)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi > 0 && pj > 0:
			return pi < pj
		case pi > 0:
			return true
		case pj > 0:
			return false
		default:
			return false // insertion order preserved by stable sort
		}
	})
	return out
}

// Snapshot returns the first SnapshotSize contacts in escalation order.
func (r *Registry) Snapshot() []store.Contact {
	out := r.Contacts()
	if len(out) > SnapshotSize {
		out = out[:SnapshotSize]
	}
	return out
}

// SetServices replaces the detected services and persists.
func (r *Registry) SetServices(ctx context.Context, services []store.Service) error {
	if len(services) > MaxServices {
		return ErrServiceLimit
	}

	r.mu.Lock()
	r.services = append([]store.Service(nil), services...)
	snapshot := append([]store.Service(nil), r.services...)
	r.mu.Unlock()

	if err := r.st.SaveServices(ctx, snapshot); err != nil {
		return fmt.Errorf("registry: persist services: %w", err)
	}
	return nil
}

// Services returns the current services.
func (r *Registry) Services() []store.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.Service(nil), r.services...)
}
