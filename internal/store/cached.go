package store

import (
	"context"
	"log/slog"
)

// Cached layers an in-memory copy of the profile over a remote Store.
// Reads are served from the cache when possible so escalation never blocks
// on the network; writes go to the cache first (local continuity) and are
// then pushed to the remote. History appends pass straight through with a
// local copy kept for reads while the remote is down.
type Cached struct {
	remote Store
	local  *Memory
	log    *slog.Logger
}

var _ Store = (*Cached)(nil)

// NewCached returns a Cached store over remote.
func NewCached(remote Store, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{remote: remote, local: NewMemory(), log: log}
}

// Warm loads the remote profile into the cache. ErrNotFound leaves the
// cache empty and is not an error.
func (c *Cached) Warm(ctx context.Context) error {
	p, err := c.remote.Profile(ctx)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	c.local.SetProfile(p)
	return nil
}

// Profile serves from the cache, falling back to the remote on a cold cache.
func (c *Cached) Profile(ctx context.Context) (Profile, error) {
	if p, err := c.local.Profile(ctx); err == nil {
		return p, nil
	}
	p, err := c.remote.Profile(ctx)
	if err != nil {
		return Profile{}, err
	}
	c.local.SetProfile(p)
	return p, nil
}

// writeThrough applies the local write, then the remote one. The local copy
// is kept even when the remote write fails; the error is still reported.
func (c *Cached) writeThrough(name string, localErr, remoteErr error) error {
	if localErr != nil {
		return localErr
	}
	if remoteErr != nil {
		c.log.Warn("remote write failed, cache retained", "op", name, "error", remoteErr)
		return remoteErr
	}
	return nil
}

func (c *Cached) SaveSafetySettings(ctx context.Context, s SafetySettings) error {
	return c.writeThrough("safety_settings",
		c.local.SaveSafetySettings(ctx, s), c.remote.SaveSafetySettings(ctx, s))
}

func (c *Cached) SaveGeofenceSettings(ctx context.Context, g GeofenceSettings) error {
	return c.writeThrough("geofence_settings",
		c.local.SaveGeofenceSettings(ctx, g), c.remote.SaveGeofenceSettings(ctx, g))
}

func (c *Cached) SaveCurrentLocation(ctx context.Context, l Location) error {
	return c.writeThrough("current_location",
		c.local.SaveCurrentLocation(ctx, l), c.remote.SaveCurrentLocation(ctx, l))
}

func (c *Cached) SaveContacts(ctx context.Context, contacts []Contact) error {
	return c.writeThrough("contacts",
		c.local.SaveContacts(ctx, contacts), c.remote.SaveContacts(ctx, contacts))
}

func (c *Cached) SaveServices(ctx context.Context, services []Service) error {
	return c.writeThrough("services",
		c.local.SaveServices(ctx, services), c.remote.SaveServices(ctx, services))
}

func (c *Cached) AppendScreamDetection(ctx context.Context, r ScreamRecord) error {
	return c.writeThrough("scream_detection",
		c.local.AppendScreamDetection(ctx, r), c.remote.AppendScreamDetection(ctx, r))
}

func (c *Cached) AppendVoiceCommand(ctx context.Context, r VoiceCommandRecord) error {
	return c.writeThrough("voice_command",
		c.local.AppendVoiceCommand(ctx, r), c.remote.AppendVoiceCommand(ctx, r))
}

func (c *Cached) AppendGeofenceAlert(ctx context.Context, a GeofenceAlert) error {
	return c.writeThrough("geofence_alert",
		c.local.AppendGeofenceAlert(ctx, a), c.remote.AppendGeofenceAlert(ctx, a))
}

func (c *Cached) AppendEmergencyEvent(ctx context.Context, e EmergencyEvent) error {
	return c.writeThrough("emergency_event",
		c.local.AppendEmergencyEvent(ctx, e), c.remote.AppendEmergencyEvent(ctx, e))
}

// ScreamDetections prefers the remote (authoritative history), falling back
// to the local copy when the remote is unreachable.
func (c *Cached) ScreamDetections(ctx context.Context, limit int) ([]ScreamRecord, error) {
	if out, err := c.remote.ScreamDetections(ctx, limit); err == nil {
		return out, nil
	}
	return c.local.ScreamDetections(ctx, limit)
}

func (c *Cached) VoiceCommands(ctx context.Context, limit int) ([]VoiceCommandRecord, error) {
	if out, err := c.remote.VoiceCommands(ctx, limit); err == nil {
		return out, nil
	}
	return c.local.VoiceCommands(ctx, limit)
}

func (c *Cached) GeofenceAlerts(ctx context.Context, limit int) ([]GeofenceAlert, error) {
	if out, err := c.remote.GeofenceAlerts(ctx, limit); err == nil {
		return out, nil
	}
	return c.local.GeofenceAlerts(ctx, limit)
}

func (c *Cached) EmergencyEvents(ctx context.Context, limit int) ([]EmergencyEvent, error) {
	if out, err := c.remote.EmergencyEvents(ctx, limit); err == nil {
		return out, nil
	}
	return c.local.EmergencyEvents(ctx, limit)
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.remote.Ping(ctx)
}
