package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kavach-app/kavach/internal/store"
)

// ErrDetectorUnavailable rejects enabling a detector whose provider is not
// configured (no audio source, no speech provider, no position source).
var ErrDetectorUnavailable = errors.New("app: detector unavailable, provider not configured")

// The App is the httpapi.DetectorControl: it owns the enabled/disabled state
// of each detector, starts and stops the underlying subsystems, and persists
// every change so the profile survives restarts.

// Settings returns the current safety settings.
func (a *App) Settings() store.SafetySettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetScreamDetection enables or disables the acoustic classifier.
func (a *App) SetScreamDetection(ctx context.Context, enabled bool) error {
	if enabled {
		if err := a.startClassifier(a.detectorCtx); err != nil {
			return err
		}
	} else if a.classifier != nil {
		a.classifier.Stop()
		a.metrics.DetectorStopped(ctx, "scream")
	}

	a.mu.Lock()
	a.settings.ScreamDetectionEnabled = enabled
	settings := a.settings
	a.mu.Unlock()
	return a.persistSettings(ctx, settings)
}

// SetVoiceCommand enables or disables the voice command recognizer. A
// language change while enabled restarts the recognition session.
func (a *App) SetVoiceCommand(ctx context.Context, enabled bool, language string) error {
	if enabled {
		if a.recognizer != nil && a.recognizer.Running() && a.recognizer.Language() != language {
			a.recognizer.Stop()
		}
		if err := a.startRecognizer(a.detectorCtx, language); err != nil {
			return err
		}
	} else if a.recognizer != nil {
		a.recognizer.Stop()
		a.metrics.DetectorStopped(ctx, "voice")
	}

	a.mu.Lock()
	a.settings.VoiceCommandEnabled = enabled
	if language != "" {
		a.settings.VoiceLanguage = language
	}
	settings := a.settings
	a.mu.Unlock()
	return a.persistSettings(ctx, settings)
}

// SetGeofenceEnabled enables or disables the geofence monitor. Enabling
// without an anchor is allowed; the watch starts with the first SetAnchor.
func (a *App) SetGeofenceEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		if a.providers.Position == nil {
			return ErrDetectorUnavailable
		}
		if err := a.monitor.Start(a.detectorCtx); err != nil {
			return fmt.Errorf("app: start geofence: %w", err)
		}
		a.metrics.DetectorStarted(ctx, "geofence")
	} else {
		a.monitor.Stop()
		a.metrics.DetectorStopped(ctx, "geofence")
	}

	a.mu.Lock()
	a.settings.GeofenceEnabled = enabled
	settings := a.settings
	a.mu.Unlock()
	return a.persistSettings(ctx, settings)
}

func (a *App) startClassifier(ctx context.Context) error {
	if a.classifier == nil {
		return ErrDetectorUnavailable
	}
	if err := a.classifier.Start(ctx); err != nil {
		return fmt.Errorf("app: start scream detection: %w", err)
	}
	a.metrics.DetectorStarted(ctx, "scream")
	return nil
}

func (a *App) startRecognizer(ctx context.Context, language string) error {
	if a.recognizer == nil {
		return ErrDetectorUnavailable
	}
	if err := a.recognizer.Start(ctx, language); err != nil {
		return fmt.Errorf("app: start voice commands: %w", err)
	}
	a.metrics.DetectorStarted(ctx, "voice")
	return nil
}

// stopDetectors halts every running detector during shutdown. Settings are
// untouched so everything restarts on the next boot.
func (a *App) stopDetectors() {
	if a.classifier != nil {
		a.classifier.Stop()
	}
	if a.recognizer != nil {
		a.recognizer.Stop()
	}
	a.monitor.Stop()
}

func (a *App) classifierRunning() bool {
	return a.classifier != nil && a.classifier.Running()
}

func (a *App) recognizerRunning() bool {
	return a.recognizer != nil && a.recognizer.Running()
}

func (a *App) persistSettings(ctx context.Context, s store.SafetySettings) error {
	if err := a.store.SaveSafetySettings(ctx, s); err != nil {
		slog.Warn("persist safety settings failed", "error", err)
		return fmt.Errorf("app: persist settings: %w", err)
	}
	return nil
}
