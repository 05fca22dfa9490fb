package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kavach-app/kavach/internal/app"
	"github.com/kavach-app/kavach/internal/config"
	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/store"
	audiomock "github.com/kavach-app/kavach/pkg/provider/audioin/mock"
	dialermock "github.com/kavach-app/kavach/pkg/provider/dialer/mock"
	geomock "github.com/kavach-app/kavach/pkg/provider/geocode/mock"
	posmock "github.com/kavach-app/kavach/pkg/provider/position/mock"
	speechmock "github.com/kavach-app/kavach/pkg/provider/speech/mock"
)

// testConfig returns a minimal engine config with short escalation timings.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Store: config.StoreConfig{Backend: config.StoreMemory},
		Safety: config.SafetyConfig{
			VoiceLanguage: "hi-IN",
		},
		Escalation: config.EscalationConfig{
			CountdownSeconds: 3,
			CountryCode:      "+91",
		},
	}
}

// testProviders returns a full set of mock providers.
func testProviders() *app.Providers {
	return &app.Providers{
		Speech:   speechmock.NewProvider(),
		Position: posmock.New(),
		Dialer:   dialermock.New(),
		Geocoder: geomock.New("Test Anchor"),
		Audio:    audiomock.New(),
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers, mem *store.Memory, bus *event.Bus) *app.App {
	t.Helper()

	a, err := app.New(context.Background(), cfg, providers,
		app.WithStore(mem), app.WithBus(bus))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), store.NewMemory(), event.NewBus())

	s := a.Settings()
	if s.ScreamDetectionEnabled || s.VoiceCommandEnabled || s.GeofenceEnabled {
		t.Errorf("detectors enabled by default: %+v", s)
	}
	if s.VoiceLanguage != "hi-IN" {
		t.Errorf("voice language = %q, want hi-IN from config", s.VoiceLanguage)
	}
}

func TestNew_RestoresPersistedSettings(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.SetProfile(store.Profile{
		Safety: store.SafetySettings{
			ScreamDetectionEnabled: true,
			VoiceLanguage:          "ta-IN",
		},
	})

	a := newTestApp(t, testConfig(), testProviders(), mem, event.NewBus())

	s := a.Settings()
	if !s.ScreamDetectionEnabled {
		t.Error("persisted scream detection flag not restored")
	}
	if s.VoiceLanguage != "ta-IN" {
		t.Errorf("voice language = %q, want persisted ta-IN", s.VoiceLanguage)
	}
}

func TestSetScreamDetection_Persists(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	a := newTestApp(t, testConfig(), testProviders(), mem, event.NewBus())

	ctx := context.Background()
	if err := a.SetScreamDetection(ctx, true); err != nil {
		t.Fatalf("SetScreamDetection: %v", err)
	}
	if !a.Settings().ScreamDetectionEnabled {
		t.Error("setting not applied")
	}

	p, err := mem.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if !p.Safety.ScreamDetectionEnabled {
		t.Error("setting not persisted")
	}

	if err := a.SetScreamDetection(ctx, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if a.Settings().ScreamDetectionEnabled {
		t.Error("setting not cleared")
	}
}

func TestSetVoiceCommand_ChangesLanguage(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), store.NewMemory(), event.NewBus())

	ctx := context.Background()
	if err := a.SetVoiceCommand(ctx, true, "te-IN"); err != nil {
		t.Fatalf("SetVoiceCommand: %v", err)
	}
	s := a.Settings()
	if !s.VoiceCommandEnabled || s.VoiceLanguage != "te-IN" {
		t.Errorf("settings = %+v, want enabled with te-IN", s)
	}
}

func TestSetVoiceCommand_WithoutSpeechProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Speech = nil
	a := newTestApp(t, testConfig(), providers, store.NewMemory(), event.NewBus())

	err := a.SetVoiceCommand(context.Background(), true, "hi-IN")
	if !errors.Is(err, app.ErrDetectorUnavailable) {
		t.Errorf("err = %v, want ErrDetectorUnavailable", err)
	}
}

func TestSetGeofenceEnabled_WithoutPositionProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Position = nil
	a := newTestApp(t, testConfig(), providers, store.NewMemory(), event.NewBus())

	err := a.SetGeofenceEnabled(context.Background(), true)
	if !errors.Is(err, app.ErrDetectorUnavailable) {
		t.Errorf("err = %v, want ErrDetectorUnavailable", err)
	}
}

func TestScreamDetectionTriggersEscalation(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.SetProfile(store.Profile{
		Contacts: []store.Contact{{ID: "c1", Name: "Mom", Phone: "9876543210"}},
	})
	bus := event.NewBus()
	newTestApp(t, testConfig(), testProviders(), mem, bus)

	var mu sync.Mutex
	var states []string
	bus.Subscribe(func(ev event.Event) {
		if ev.Escalation != nil {
			mu.Lock()
			states = append(states, ev.Escalation.State)
			mu.Unlock()
		}
	})

	bus.PublishDetection(event.Detection{
		Kind:      event.KindScream,
		Timestamp: time.Now(),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0] != "counting_down" {
		t.Errorf("escalation states after scream = %v, want counting_down first", states)
	}
}

func TestGeofenceBreachDoesNotTriggerEscalation(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.SetProfile(store.Profile{
		Contacts: []store.Contact{{ID: "c1", Name: "Mom", Phone: "9876543210"}},
	})
	bus := event.NewBus()
	newTestApp(t, testConfig(), testProviders(), mem, bus)

	var mu sync.Mutex
	var escalations int
	bus.Subscribe(func(ev event.Event) {
		if ev.Escalation != nil {
			mu.Lock()
			escalations++
			mu.Unlock()
		}
	})

	bus.PublishDetection(event.Detection{
		Kind:       event.KindGeofence,
		Timestamp:  time.Now(),
		DistanceKm: 3.2,
		ZoneLabel:  "Home",
	})

	mu.Lock()
	defer mu.Unlock()
	if escalations != 0 {
		t.Errorf("geofence breach published %d escalation events, want 0", escalations)
	}
}

func TestReload_AppliesSafetyToggles(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), store.NewMemory(), event.NewBus())

	cfg := testConfig()
	cfg.Safety.ScreamDetection = true
	cfg.Safety.VoiceCommand = true
	cfg.Safety.VoiceLanguage = "te-IN"

	a.Reload(context.Background(), cfg, config.ConfigDiff{SafetyChanged: true})

	s := a.Settings()
	if !s.ScreamDetectionEnabled {
		t.Error("scream detection not enabled after reload")
	}
	if !s.VoiceCommandEnabled {
		t.Error("voice command not enabled after reload")
	}
	if s.VoiceLanguage != "te-IN" {
		t.Errorf("voice language = %q, want te-IN after reload", s.VoiceLanguage)
	}
}

func TestReload_IgnoresUnchangedSafety(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), store.NewMemory(), event.NewBus())

	cfg := testConfig()
	cfg.Safety.ScreamDetection = true

	// Only threshold sections changed: safety toggles must stay untouched.
	a.Reload(context.Background(), cfg, config.ConfigDiff{AcousticChanged: true})

	if s := a.Settings(); s.ScreamDetectionEnabled {
		t.Error("scream detection enabled without a safety section change")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), store.NewMemory(), event.NewBus())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
