package app

import (
	"context"
	"log/slog"

	"github.com/kavach-app/kavach/internal/config"
)

// Reload applies the hot-reloadable parts of a changed configuration.
// Detector toggles go through the same path the HTTP API uses, so they
// persist and show up in metrics. Threshold sections (geofence, acoustic,
// escalation) configure subsystems built at startup and only take effect
// after a restart.
func (a *App) Reload(ctx context.Context, cfg *config.Config, d config.ConfigDiff) {
	if d.SafetyChanged {
		a.applySafety(ctx, cfg.Safety)
	}
	if d.GeofenceChanged || d.AcousticChanged || d.EscalationChanged {
		slog.Warn("changed detector thresholds take effect after restart")
	}
}

func (a *App) applySafety(ctx context.Context, want config.SafetyConfig) {
	have := a.Settings()

	if want.ScreamDetection != have.ScreamDetectionEnabled {
		if err := a.SetScreamDetection(ctx, want.ScreamDetection); err != nil {
			slog.Warn("reload: scream detection toggle failed", "enabled", want.ScreamDetection, "error", err)
		}
	}
	if want.VoiceCommand != have.VoiceCommandEnabled ||
		(want.VoiceLanguage != "" && want.VoiceLanguage != have.VoiceLanguage) {
		if err := a.SetVoiceCommand(ctx, want.VoiceCommand, want.VoiceLanguage); err != nil {
			slog.Warn("reload: voice command toggle failed", "enabled", want.VoiceCommand, "error", err)
		}
	}
	if want.Geofence != have.GeofenceEnabled {
		if err := a.SetGeofenceEnabled(ctx, want.Geofence); err != nil {
			slog.Warn("reload: geofence toggle failed", "enabled", want.Geofence, "error", err)
		}
	}
}
