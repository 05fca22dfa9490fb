package config_test

import (
	"testing"

	"github.com/kavach-app/kavach/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Safety: config.SafetyConfig{VoiceCommand: true, VoiceLanguage: "hi-IN"},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_SafetyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Safety: config.SafetyConfig{ScreamDetection: true}}
	new := &config.Config{Safety: config.SafetyConfig{ScreamDetection: false}}

	d := config.Diff(old, new)
	if !d.SafetyChanged {
		t.Error("expected SafetyChanged=true")
	}
	if d.GeofenceChanged || d.AcousticChanged || d.EscalationChanged {
		t.Errorf("unrelated sections flagged: %+v", d)
	}
}

func TestDiff_GeofenceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Geofence: config.GeofenceConfig{ThresholdKm: 2}}
	new := &config.Config{Geofence: config.GeofenceConfig{ThresholdKm: 5}}

	d := config.Diff(old, new)
	if !d.GeofenceChanged {
		t.Error("expected GeofenceChanged=true")
	}
}

func TestDiff_AcousticAndEscalationChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Acoustic:   config.AcousticConfig{VolumeThreshold: 150},
		Escalation: config.EscalationConfig{CountdownSeconds: 3},
	}
	new := &config.Config{
		Acoustic:   config.AcousticConfig{VolumeThreshold: 170},
		Escalation: config.EscalationConfig{CountdownSeconds: 10},
	}

	d := config.Diff(old, new)
	if !d.AcousticChanged {
		t.Error("expected AcousticChanged=true")
	}
	if !d.EscalationChanged {
		t.Error("expected EscalationChanged=true")
	}
	if !d.Any() {
		t.Error("Any() should report true")
	}
}

func TestDiff_ProviderChangeIgnored(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{Speech: config.ProviderEntry{Name: "deepgram"}}}
	new := &config.Config{Providers: config.ProvidersConfig{Speech: config.ProviderEntry{Name: "other"}}}

	d := config.Diff(old, new)
	if d.Any() {
		t.Errorf("provider changes should not be hot-reloadable, got %+v", d)
	}
}
