// Package geofence monitors distance from a user-set anchor point and emits
// a detection event when the configured radius is breached. Breach alerts
// are rate-limited and re-armed by returning inside the fence; the monitor
// never triggers the escalation sequencer itself.
package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/geo"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/geocode"
	"github.com/kavach-app/kavach/pkg/provider/position"
)

const (
	// DefaultThresholdKm is the fence radius when none is configured.
	DefaultThresholdKm = 2.0
	// DefaultRenotifyInterval limits repeat breach alerts while outside.
	DefaultRenotifyInterval = 30 * time.Minute
	// locationSaveInterval throttles current-location persistence.
	locationSaveInterval = 5 * time.Minute
	// geocodeTimeout bounds the anchor label lookup.
	geocodeTimeout = 10 * time.Second
)

// SettingsStore is the slice of the persistence gateway the monitor needs.
type SettingsStore interface {
	SaveGeofenceSettings(ctx context.Context, g store.GeofenceSettings) error
	SaveCurrentLocation(ctx context.Context, l store.Location) error
	AppendGeofenceAlert(ctx context.Context, a store.GeofenceAlert) error
}

// Option is a functional option for configuring the Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

// WithGeocoder enables reverse-geocoded anchor labels.
func WithGeocoder(g geocode.ReverseGeocoder) Option {
	return func(m *Monitor) {
		m.geocoder = g
	}
}

// WithThresholdKm overrides the default fence radius.
func WithThresholdKm(km float64) Option {
	return func(m *Monitor) {
		if km > 0 {
			m.settings.ThresholdKm = km
		}
	}
}

// WithRenotifyInterval overrides the repeat-alert interval.
func WithRenotifyInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.settings.RenotifyInterval = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// Monitor is the geofence monitor. Safe for concurrent use.
type Monitor struct {
	source   position.Source
	bus      *event.Bus
	st       SettingsStore
	geocoder geocode.ReverseGeocoder
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	settings    store.GeofenceSettings
	watch       position.Watch
	lastLocSave time.Time
	lastFix     *position.Fix
}

// New returns a Monitor. The position watch starts lazily with the first
// SetAnchor (or Start after Restore).
func New(source position.Source, bus *event.Bus, st SettingsStore, opts ...Option) *Monitor {
	m := &Monitor{
		source: source,
		bus:    bus,
		st:     st,
		log:    slog.Default(),
		now:    time.Now,
		settings: store.GeofenceSettings{
			ThresholdKm:      DefaultThresholdKm,
			RenotifyInterval: DefaultRenotifyInterval,
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore adopts persisted settings, keeping configured defaults for any
// zero field.
func (m *Monitor) Restore(g store.GeofenceSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ThresholdKm > 0 {
		m.settings.ThresholdKm = g.ThresholdKm
	}
	if g.RenotifyInterval > 0 {
		m.settings.RenotifyInterval = g.RenotifyInterval
	}
	m.settings.Anchor = g.Anchor
	m.settings.LastNotifiedAt = g.LastNotifiedAt
}

// SetAnchor places the fence at the given coordinates and arms it. When no
// label is supplied and a geocoder is configured, the label is resolved
// best-effort. Starting the position watch is idempotent.
func (m *Monitor) SetAnchor(ctx context.Context, lat, lon float64, label string) error {
	if label == "" && m.geocoder != nil {
		gctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
		resolved, err := m.geocoder.ReverseGeocode(gctx, lat, lon)
		cancel()
		if err != nil {
			m.log.Warn("anchor label lookup failed", "error", err)
		} else {
			label = resolved
		}
	}

	m.mu.Lock()
	m.settings.Anchor = &store.Anchor{
		Latitude:  lat,
		Longitude: lon,
		Label:     label,
		SetAt:     m.now(),
	}
	m.settings.LastNotifiedAt = time.Time{}
	settings := m.settings
	m.mu.Unlock()

	if err := m.st.SaveGeofenceSettings(ctx, settings); err != nil {
		m.log.Warn("persist geofence settings failed", "error", err)
	}
	return m.Start(ctx)
}

// ClearAnchor removes the fence and stops the position watch.
func (m *Monitor) ClearAnchor(ctx context.Context) error {
	m.mu.Lock()
	m.settings.Anchor = nil
	m.settings.LastNotifiedAt = time.Time{}
	settings := m.settings
	watch := m.watch
	m.watch = nil
	m.mu.Unlock()

	if watch != nil {
		watch.Stop()
	}
	if err := m.st.SaveGeofenceSettings(ctx, settings); err != nil {
		return fmt.Errorf("geofence: persist settings: %w", err)
	}
	return nil
}

// Start begins the position watch if an anchor is set. Calling Start while
// already watching is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.settings.Anchor == nil || m.watch != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	watch, err := m.source.Watch(ctx, m.OnPositionFix)
	if err != nil {
		return fmt.Errorf("geofence: start watch: %w", err)
	}

	m.mu.Lock()
	if m.watch != nil {
		// Lost the race with a concurrent Start.
		m.mu.Unlock()
		watch.Stop()
		return nil
	}
	m.watch = watch
	m.mu.Unlock()

	m.log.Info("geofence watch started")
	return nil
}

// Stop ends the position watch. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	watch := m.watch
	m.watch = nil
	m.mu.Unlock()
	if watch != nil {
		watch.Stop()
	}
}

// Anchor returns the current anchor, or nil.
func (m *Monitor) Anchor() *store.Anchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.Anchor == nil {
		return nil
	}
	a := *m.settings.Anchor
	return &a
}

// LastFix returns the most recent position fix seen, or nil.
func (m *Monitor) LastFix() *position.Fix {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFix == nil {
		return nil
	}
	f := *m.lastFix
	return &f
}

// OnPositionFix evaluates one fix against the fence. It persists the current
// location at most every five minutes, emits a breach detection when the
// distance meets the threshold (rate-limited while outside), and re-arms the
// fence when the fix is back inside.
func (m *Monitor) OnPositionFix(fix position.Fix) {
	now := m.now()

	m.mu.Lock()
	m.lastFix = &fix

	saveLoc := m.lastLocSave.IsZero() || now.Sub(m.lastLocSave) >= locationSaveInterval
	if saveLoc {
		m.lastLocSave = now
	}

	anchor := m.settings.Anchor
	var (
		breach     bool
		rearmed    bool
		distanceKm float64
		settings   store.GeofenceSettings
	)
	if anchor != nil {
		distanceKm = geo.DistanceKm(fix.Latitude, fix.Longitude, anchor.Latitude, anchor.Longitude)
		if distanceKm >= m.settings.ThresholdKm {
			last := m.settings.LastNotifiedAt
			if last.IsZero() || now.Sub(last) >= m.settings.RenotifyInterval {
				m.settings.LastNotifiedAt = now
				breach = true
			}
		} else if !m.settings.LastNotifiedAt.IsZero() {
			// Back inside: clear the rate limit so the next exit alerts
			// immediately.
			m.settings.LastNotifiedAt = time.Time{}
			rearmed = true
		}
	}
	settings = m.settings
	label := ""
	if anchor != nil {
		label = anchor.Label
	}
	m.mu.Unlock()

	ctx := context.Background()
	if saveLoc {
		err := m.st.SaveCurrentLocation(ctx, store.Location{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			AccuracyM: fix.AccuracyM,
			Timestamp: fix.Timestamp,
		})
		if err != nil {
			m.log.Warn("persist current location failed", "error", err)
		}
	}

	if breach || rearmed {
		if err := m.st.SaveGeofenceSettings(ctx, settings); err != nil {
			m.log.Warn("persist geofence settings failed", "error", err)
		}
	}

	if rearmed {
		m.log.Info("geofence re-armed", "distance_km", distanceKm)
	}
	if breach {
		m.log.Warn("geofence breached",
			"distance_km", distanceKm, "threshold_km", settings.ThresholdKm, "zone", label)
		err := m.st.AppendGeofenceAlert(ctx, store.GeofenceAlert{
			Timestamp:  now,
			DistanceKm: distanceKm,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			ZoneLabel:  label,
		})
		if err != nil {
			m.log.Warn("persist geofence alert failed", "error", err)
		}
		m.bus.PublishDetection(event.Detection{
			Kind:       event.KindGeofence,
			Timestamp:  now,
			DistanceKm: distanceKm,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			ZoneLabel:  label,
		})
	}
}
