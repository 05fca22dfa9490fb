package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and the cache layer, and
// serves as the sole store when the engine runs without Postgres.
type Memory struct {
	mu       sync.RWMutex
	profile  Profile
	seeded   bool
	screams  []ScreamRecord
	commands []VoiceCommandRecord
	alerts   []GeofenceAlert
	events   []EmergencyEvent
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Profile returns a deep copy of the stored profile.
func (m *Memory) Profile(ctx context.Context) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.seeded {
		return Profile{}, ErrNotFound
	}
	return copyProfile(m.profile), nil
}

// SetProfile replaces the whole profile. Used by the cache layer to seed
// from a remote read.
func (m *Memory) SetProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = copyProfile(p)
	m.seeded = true
}

func (m *Memory) SaveSafetySettings(ctx context.Context, s SafetySettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.Safety = s
	m.seeded = true
	return nil
}

func (m *Memory) SaveGeofenceSettings(ctx context.Context, g GeofenceSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.Anchor != nil {
		a := *g.Anchor
		g.Anchor = &a
	}
	m.profile.Geofence = g
	m.seeded = true
	return nil
}

func (m *Memory) SaveCurrentLocation(ctx context.Context, l Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.CurrentLocation = &l
	m.seeded = true
	return nil
}

func (m *Memory) SaveContacts(ctx context.Context, contacts []Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.Contacts = append([]Contact(nil), contacts...)
	m.seeded = true
	return nil
}

func (m *Memory) SaveServices(ctx context.Context, services []Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.Services = append([]Service(nil), services...)
	m.seeded = true
	return nil
}

func (m *Memory) AppendScreamDetection(ctx context.Context, r ScreamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screams = append(m.screams, r)
	return nil
}

func (m *Memory) AppendVoiceCommand(ctx context.Context, r VoiceCommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, r)
	return nil
}

func (m *Memory) AppendGeofenceAlert(ctx context.Context, a GeofenceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) AppendEmergencyEvent(ctx context.Context, e EmergencyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Attempts = append([]DialAttempt(nil), e.Attempts...)
	m.events = append(m.events, e)
	return nil
}

// ScreamDetections returns the newest limit records, newest first.
func (m *Memory) ScreamDetections(ctx context.Context, limit int) ([]ScreamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.screams, limit), nil
}

func (m *Memory) VoiceCommands(ctx context.Context, limit int) ([]VoiceCommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.commands, limit), nil
}

func (m *Memory) GeofenceAlerts(ctx context.Context, limit int) ([]GeofenceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.alerts, limit), nil
}

func (m *Memory) EmergencyEvents(ctx context.Context, limit int) ([]EmergencyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.events, limit), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// newestFirst returns up to limit entries from the tail of s, reversed.
// limit <= 0 means all.
func newestFirst[T any](s []T, limit int) []T {
	n := len(s)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(s) - 1; i >= len(s)-n; i-- {
		out = append(out, s[i])
	}
	return out
}

func copyProfile(p Profile) Profile {
	out := p
	out.Contacts = append([]Contact(nil), p.Contacts...)
	out.Services = append([]Service(nil), p.Services...)
	if p.Geofence.Anchor != nil {
		a := *p.Geofence.Anchor
		out.Geofence.Anchor = &a
	}
	if p.CurrentLocation != nil {
		l := *p.CurrentLocation
		out.CurrentLocation = &l
	}
	return out
}
