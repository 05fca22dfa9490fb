package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SafetyChanged is true when any detector toggle or voice setting changed.
	SafetyChanged bool

	// GeofenceChanged is true when the breach threshold or renotify interval
	// changed.
	GeofenceChanged bool

	// AcousticChanged is true when any classifier threshold changed.
	AcousticChanged bool

	// EscalationChanged is true when countdown, dial delay, or country code
	// changed.
	EscalationChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SafetyChanged || d.GeofenceChanged ||
		d.AcousticChanged || d.EscalationChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: provider and
// store changes require a full restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Safety != new.Safety {
		d.SafetyChanged = true
	}
	if old.Geofence != new.Geofence {
		d.GeofenceChanged = true
	}
	if old.Acoustic != new.Acoustic {
		d.AcousticChanged = true
	}
	if old.Escalation != new.Escalation {
		d.EscalationChanged = true
	}

	return d
}
