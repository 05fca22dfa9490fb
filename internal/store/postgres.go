package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the safety profile and history tables. Idempotent;
// applied by Migrate at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS safety_profiles (
	user_id           TEXT PRIMARY KEY,
	safety_settings   JSONB NOT NULL DEFAULT '{}',
	geofence_settings JSONB NOT NULL DEFAULT '{}',
	contacts          JSONB NOT NULL DEFAULT '[]',
	services          JSONB NOT NULL DEFAULT '[]',
	current_location  JSONB,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scream_detections (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT NOT NULL,
	detected_at  TIMESTAMPTZ NOT NULL,
	volume_raw   DOUBLE PRECISION NOT NULL,
	frequency_hz DOUBLE PRECISION NOT NULL,
	duration_ms  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS scream_detections_user_time_idx
	ON scream_detections (user_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS voice_commands (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	recognized_at TIMESTAMPTZ NOT NULL,
	transcript    TEXT NOT NULL,
	language      TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS voice_commands_user_time_idx
	ON voice_commands (user_id, recognized_at DESC);

CREATE TABLE IF NOT EXISTS geofence_alerts (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	alerted_at  TIMESTAMPTZ NOT NULL,
	distance_km DOUBLE PRECISION NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	zone_label  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS geofence_alerts_user_time_idx
	ON geofence_alerts (user_id, alerted_at DESC);

CREATE TABLE IF NOT EXISTS emergency_events (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL,
	attempts   JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS emergency_events_user_time_idx
	ON emergency_events (user_id, started_at DESC);
`

// DB is the subset of pgxpool.Pool used by Postgres. Narrowed for tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres implements Store on a Postgres database. All profile writes
// upsert the single user row; histories append to their own tables.
type Postgres struct {
	db     DB
	userID string
}

var _ Store = (*Postgres)(nil)

// NewPostgres returns a Postgres store for the given user row.
func NewPostgres(db DB, userID string) *Postgres {
	if userID == "" {
		userID = "default"
	}
	return &Postgres{db: db, userID: userID}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Profile loads the user record.
func (p *Postgres) Profile(ctx context.Context) (Profile, error) {
	var (
		safetyRaw, geofenceRaw, contactsRaw, servicesRaw []byte
		locationRaw                                      []byte
	)
	err := p.db.QueryRow(ctx, `
		SELECT safety_settings, geofence_settings, contacts, services, current_location
		FROM safety_profiles WHERE user_id = $1`, p.userID).
		Scan(&safetyRaw, &geofenceRaw, &contactsRaw, &servicesRaw, &locationRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("store: load profile: %w", err)
	}

	var out Profile
	if err := json.Unmarshal(safetyRaw, &out.Safety); err != nil {
		return Profile{}, fmt.Errorf("store: decode safety settings: %w", err)
	}
	if err := json.Unmarshal(geofenceRaw, &out.Geofence); err != nil {
		return Profile{}, fmt.Errorf("store: decode geofence settings: %w", err)
	}
	if err := json.Unmarshal(contactsRaw, &out.Contacts); err != nil {
		return Profile{}, fmt.Errorf("store: decode contacts: %w", err)
	}
	if err := json.Unmarshal(servicesRaw, &out.Services); err != nil {
		return Profile{}, fmt.Errorf("store: decode services: %w", err)
	}
	if len(locationRaw) > 0 {
		out.CurrentLocation = &Location{}
		if err := json.Unmarshal(locationRaw, out.CurrentLocation); err != nil {
			return Profile{}, fmt.Errorf("store: decode location: %w", err)
		}
	}
	return out, nil
}

// upsertField writes one JSONB column of the profile row.
func (p *Postgres) upsertField(ctx context.Context, column string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", column, err)
	}
	// column comes from a fixed call site, never user input.
	q := fmt.Sprintf(`
		INSERT INTO safety_profiles (user_id, %[1]s, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = now()`,
		column)
	if _, err := p.db.Exec(ctx, q, p.userID, raw); err != nil {
		return fmt.Errorf("store: save %s: %w", column, err)
	}
	return nil
}

func (p *Postgres) SaveSafetySettings(ctx context.Context, s SafetySettings) error {
	return p.upsertField(ctx, "safety_settings", s)
}

func (p *Postgres) SaveGeofenceSettings(ctx context.Context, g GeofenceSettings) error {
	return p.upsertField(ctx, "geofence_settings", g)
}

func (p *Postgres) SaveCurrentLocation(ctx context.Context, l Location) error {
	return p.upsertField(ctx, "current_location", l)
}

func (p *Postgres) SaveContacts(ctx context.Context, contacts []Contact) error {
	if contacts == nil {
		contacts = []Contact{}
	}
	return p.upsertField(ctx, "contacts", contacts)
}

func (p *Postgres) SaveServices(ctx context.Context, services []Service) error {
	if services == nil {
		services = []Service{}
	}
	return p.upsertField(ctx, "services", services)
}

func (p *Postgres) AppendScreamDetection(ctx context.Context, r ScreamRecord) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO scream_detections (user_id, detected_at, volume_raw, frequency_hz, duration_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		p.userID, r.Timestamp, r.VolumeRaw, r.FrequencyHz, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: append scream detection: %w", err)
	}
	return nil
}

func (p *Postgres) AppendVoiceCommand(ctx context.Context, r VoiceCommandRecord) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO voice_commands (user_id, recognized_at, transcript, language, confidence)
		VALUES ($1, $2, $3, $4, $5)`,
		p.userID, r.Timestamp, r.Transcript, r.Language, r.Confidence)
	if err != nil {
		return fmt.Errorf("store: append voice command: %w", err)
	}
	return nil
}

func (p *Postgres) AppendGeofenceAlert(ctx context.Context, a GeofenceAlert) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO geofence_alerts (user_id, alerted_at, distance_km, latitude, longitude, zone_label)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.userID, a.Timestamp, a.DistanceKm, a.Latitude, a.Longitude, a.ZoneLabel)
	if err != nil {
		return fmt.Errorf("store: append geofence alert: %w", err)
	}
	return nil
}

func (p *Postgres) AppendEmergencyEvent(ctx context.Context, e EmergencyEvent) error {
	attempts, err := json.Marshal(e.Attempts)
	if err != nil {
		return fmt.Errorf("store: encode attempts: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO emergency_events (id, user_id, reason, outcome, started_at, ended_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, p.userID, e.Reason, e.Outcome, e.StartedAt, e.EndedAt, attempts)
	if err != nil {
		return fmt.Errorf("store: append emergency event: %w", err)
	}
	return nil
}

func (p *Postgres) ScreamDetections(ctx context.Context, limit int) ([]ScreamRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT detected_at, volume_raw, frequency_hz, duration_ms
		FROM scream_detections WHERE user_id = $1
		ORDER BY detected_at DESC LIMIT $2`, p.userID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: scream detections: %w", err)
	}
	defer rows.Close()

	out := []ScreamRecord{}
	for rows.Next() {
		var (
			r          ScreamRecord
			durationMs int64
		)
		if err := rows.Scan(&r.Timestamp, &r.VolumeRaw, &r.FrequencyHz, &durationMs); err != nil {
			return nil, fmt.Errorf("store: scan scream detection: %w", err)
		}
		r.Duration = msToDuration(durationMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) VoiceCommands(ctx context.Context, limit int) ([]VoiceCommandRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT recognized_at, transcript, language, confidence
		FROM voice_commands WHERE user_id = $1
		ORDER BY recognized_at DESC LIMIT $2`, p.userID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: voice commands: %w", err)
	}
	defer rows.Close()

	out := []VoiceCommandRecord{}
	for rows.Next() {
		var r VoiceCommandRecord
		if err := rows.Scan(&r.Timestamp, &r.Transcript, &r.Language, &r.Confidence); err != nil {
			return nil, fmt.Errorf("store: scan voice command: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GeofenceAlerts(ctx context.Context, limit int) ([]GeofenceAlert, error) {
	rows, err := p.db.Query(ctx, `
		SELECT alerted_at, distance_km, latitude, longitude, zone_label
		FROM geofence_alerts WHERE user_id = $1
		ORDER BY alerted_at DESC LIMIT $2`, p.userID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: geofence alerts: %w", err)
	}
	defer rows.Close()

	out := []GeofenceAlert{}
	for rows.Next() {
		var a GeofenceAlert
		if err := rows.Scan(&a.Timestamp, &a.DistanceKm, &a.Latitude, &a.Longitude, &a.ZoneLabel); err != nil {
			return nil, fmt.Errorf("store: scan geofence alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) EmergencyEvents(ctx context.Context, limit int) ([]EmergencyEvent, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, reason, outcome, started_at, ended_at, attempts
		FROM emergency_events WHERE user_id = $1
		ORDER BY started_at DESC LIMIT $2`, p.userID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: emergency events: %w", err)
	}
	defer rows.Close()

	out := []EmergencyEvent{}
	for rows.Next() {
		var (
			e        EmergencyEvent
			attempts []byte
		)
		if err := rows.Scan(&e.ID, &e.Reason, &e.Outcome, &e.StartedAt, &e.EndedAt, &attempts); err != nil {
			return nil, fmt.Errorf("store: scan emergency event: %w", err)
		}
		if err := json.Unmarshal(attempts, &e.Attempts); err != nil {
			return nil, fmt.Errorf("store: decode attempts: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// nullableLimit maps limit <= 0 to NULL so LIMIT becomes unbounded.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
