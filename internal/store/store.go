// Package store is the persistence gateway. It exposes narrow read/write
// contracts for the single-user safety profile (settings, contacts, detected
// services, last known location) and the append-only event histories. The
// rest of the engine never sees a database handle, only this interface.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no profile has been persisted yet.
var ErrNotFound = errors.New("store: not found")

// Contact is one emergency contact on the profile. Contacts live as an array
// field on the user record; mutations always rewrite the whole array.
type Contact struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone"`
	Relation string    `json:"relation,omitempty"`
	Priority int       `json:"priority,omitempty"` // 0 = unset, explicit values sort ascending first
	AddedAt  time.Time `json:"addedAt"`
}

// Service is a detected local emergency service (police, helpline).
type Service struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// SafetySettings are the per-detector enabled flags and voice tuning,
// restored at startup.
type SafetySettings struct {
	ScreamDetectionEnabled   bool    `json:"screamDetectionEnabled"`
	VoiceCommandEnabled      bool    `json:"voiceCommandEnabled"`
	GeofenceEnabled          bool    `json:"geofenceEnabled"`
	VoiceLanguage            string  `json:"voiceLanguage,omitempty"`
	VoiceConfidenceThreshold float64 `json:"voiceConfidenceThreshold,omitempty"`
}

// Anchor is the geofence reference point.
type Anchor struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Label     string    `json:"label,omitempty"`
	SetAt     time.Time `json:"setAt"`
}

// GeofenceSettings hold the anchor and the breach-notification state. A zero
// LastNotifiedAt means the fence is armed.
type GeofenceSettings struct {
	Anchor           *Anchor       `json:"anchor,omitempty"`
	ThresholdKm      float64       `json:"thresholdKm"`
	RenotifyInterval time.Duration `json:"renotifyInterval"`
	LastNotifiedAt   time.Time     `json:"lastNotifiedAt,omitzero"`
}

// Location is a persisted position sample.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracyM,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is the whole persisted user record.
type Profile struct {
	Safety          SafetySettings
	Geofence        GeofenceSettings
	Contacts        []Contact
	Services        []Service
	CurrentLocation *Location
}

// ScreamRecord is one acoustic detection history entry.
type ScreamRecord struct {
	Timestamp   time.Time     `json:"timestamp"`
	VolumeRaw   float64       `json:"volumeRaw"`
	FrequencyHz float64       `json:"frequencyHz"`
	Duration    time.Duration `json:"duration"`
}

// VoiceCommandRecord is one recognized-command history entry.
type VoiceCommandRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
}

// GeofenceAlert is one breach-notification history entry.
type GeofenceAlert struct {
	Timestamp  time.Time `json:"timestamp"`
	DistanceKm float64   `json:"distanceKm"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ZoneLabel  string    `json:"zoneLabel,omitempty"`
}

// DialAttempt is one dial in an escalation session's attempts log.
type DialAttempt struct {
	ContactName string    `json:"contactName"`
	Number      string    `json:"number"`
	Status      string    `json:"status"` // initiated, called, failed
	Timestamp   time.Time `json:"timestamp"`
}

// EmergencyEvent is one escalation session's history entry.
type EmergencyEvent struct {
	ID        string        `json:"id"`
	Reason    string        `json:"reason"`
	Outcome   string        `json:"outcome"` // completed, cancelled
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Attempts  []DialAttempt `json:"attempts"`
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Profile loads the user record. ErrNotFound when nothing is persisted.
	Profile(ctx context.Context) (Profile, error)

	SaveSafetySettings(ctx context.Context, s SafetySettings) error
	SaveGeofenceSettings(ctx context.Context, g GeofenceSettings) error
	SaveCurrentLocation(ctx context.Context, l Location) error
	SaveContacts(ctx context.Context, contacts []Contact) error
	SaveServices(ctx context.Context, services []Service) error

	AppendScreamDetection(ctx context.Context, r ScreamRecord) error
	AppendVoiceCommand(ctx context.Context, r VoiceCommandRecord) error
	AppendGeofenceAlert(ctx context.Context, a GeofenceAlert) error
	AppendEmergencyEvent(ctx context.Context, e EmergencyEvent) error

	ScreamDetections(ctx context.Context, limit int) ([]ScreamRecord, error)
	VoiceCommands(ctx context.Context, limit int) ([]VoiceCommandRecord, error)
	GeofenceAlerts(ctx context.Context, limit int) ([]GeofenceAlert, error)
	EmergencyEvents(ctx context.Context, limit int) ([]EmergencyEvent, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
