package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"speech":   {"deepgram"},
	"position": {"gpsd"},
	"dialer":   {"webhook"},
	"geocoder": {"nominatim"},
	"audio":    {"wav"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	// Warn for unknown provider names.
	validateProviderName("speech", cfg.Providers.Speech.Name)
	validateProviderName("position", cfg.Providers.Position.Name)
	validateProviderName("dialer", cfg.Providers.Dialer.Name)
	validateProviderName("geocoder", cfg.Providers.Geocoder.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Detector ↔ provider cross-validation.
	if cfg.Safety.VoiceCommand && cfg.Providers.Speech.Name == "" {
		errs = append(errs, errors.New("safety.voice_command requires a speech provider but providers.speech is not configured"))
	}
	if cfg.Safety.Geofence && cfg.Providers.Position.Name == "" {
		errs = append(errs, errors.New("safety.geofence requires a position provider but providers.position is not configured"))
	}
	if cfg.Providers.Dialer.Name == "" {
		slog.Warn("no dialer provider configured; emergency escalation will only raise alerts")
	}

	// Safety
	if t := cfg.Safety.VoiceConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("safety.voice_confidence_threshold %.2f is out of range [0, 1]", t))
	}

	// Geofence
	if cfg.Geofence.ThresholdKm < 0 {
		errs = append(errs, fmt.Errorf("geofence.threshold_km %.2f must not be negative", cfg.Geofence.ThresholdKm))
	}
	if cfg.Geofence.RenotifyMinutes < 0 {
		errs = append(errs, fmt.Errorf("geofence.renotify_minutes %d must not be negative", cfg.Geofence.RenotifyMinutes))
	}

	// Acoustic
	if v := cfg.Acoustic.VolumeThreshold; v < 0 || v > 255 {
		errs = append(errs, fmt.Errorf("acoustic.volume_threshold %.1f is out of range [0, 255]", v))
	}
	if cfg.Acoustic.FrequencyThresholdHz < 0 {
		errs = append(errs, fmt.Errorf("acoustic.frequency_threshold_hz %.1f must not be negative", cfg.Acoustic.FrequencyThresholdHz))
	}
	if cfg.Acoustic.MinDurationMs < 0 {
		errs = append(errs, fmt.Errorf("acoustic.min_duration_ms %d must not be negative", cfg.Acoustic.MinDurationMs))
	}
	if cfg.Acoustic.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("acoustic.cooldown_seconds %d must not be negative", cfg.Acoustic.CooldownSeconds))
	}

	// Escalation
	if cfg.Escalation.CountdownSeconds < 0 {
		errs = append(errs, fmt.Errorf("escalation.countdown_seconds %d must not be negative", cfg.Escalation.CountdownSeconds))
	}
	if cfg.Escalation.DialDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("escalation.dial_delay_seconds %d must not be negative", cfg.Escalation.DialDelaySeconds))
	}
	if cc := cfg.Escalation.CountryCode; cc != "" && !strings.HasPrefix(cc, "+") {
		errs = append(errs, fmt.Errorf("escalation.country_code %q must start with '+'", cc))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
