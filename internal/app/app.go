// Package app wires all Kavach subsystems into a running safety engine.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the detectors and the HTTP surface, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithBus, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavach-app/kavach/internal/acoustic"
	"github.com/kavach-app/kavach/internal/config"
	"github.com/kavach-app/kavach/internal/escalate"
	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/geofence"
	"github.com/kavach-app/kavach/internal/httpapi"
	"github.com/kavach-app/kavach/internal/observe"
	"github.com/kavach-app/kavach/internal/registry"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/internal/voice"
	"github.com/kavach-app/kavach/pkg/provider/audioin"
	"github.com/kavach-app/kavach/pkg/provider/dialer"
	"github.com/kavach-app/kavach/pkg/provider/geocode"
	"github.com/kavach-app/kavach/pkg/provider/notify"
	"github.com/kavach-app/kavach/pkg/provider/position"
	"github.com/kavach-app/kavach/pkg/provider/speech"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Speech   speech.Provider
	Position position.Source
	Dialer   dialer.Dialer
	Geocoder geocode.ReverseGeocoder
	Audio    audioin.Source
	Notify   notify.Notifier // extra alert sink (MQTT); slog is always on
}

// App owns all subsystem lifetimes and orchestrates the safety pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	bus        *event.Bus
	store      store.Store
	notifier   notify.Notifier
	registry   *registry.Registry
	monitor    *geofence.Monitor
	classifier *acoustic.Classifier
	recognizer *voice.Recognizer
	sequencer  *escalate.Sequencer
	metrics    *observe.Metrics
	httpSrv    *http.Server

	// detectorCtx outlives individual API requests; detector goroutines
	// run on it and die with the app.
	detectorCtx    context.Context
	detectorCancel context.CancelFunc

	mu       sync.Mutex
	settings store.SafetySettings

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence gateway instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBus injects an event bus.
func WithBus(b *event.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics injects a metrics bundle instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection and
// migration, profile restore, detector construction, and HTTP surface
// assembly. Detectors do not start listening until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	a.detectorCtx, a.detectorCancel = context.WithCancel(context.Background())

	if a.bus == nil {
		a.bus = event.NewBus()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Persistence gateway ───────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Notifier chain ────────────────────────────────────────────────
	a.initNotifier()

	// ── 3. Contact/service registry ──────────────────────────────────────
	a.registry = registry.New(a.store)
	if err := a.registry.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: restore registry: %w", err)
	}

	// ── 4. Detectors ─────────────────────────────────────────────────────
	a.initDetectors()

	// ── 5. Escalation sequencer ──────────────────────────────────────────
	a.sequencer = escalate.New(a.registry, a.dialerOrNoop(), a.notifier, a.store, a.bus,
		escalate.WithMetrics(a.metrics),
		escalate.WithConfig(escalate.Config{
			CountdownTicks: cfg.Escalation.CountdownSeconds,
			DialDelay:      time.Duration(cfg.Escalation.DialDelaySeconds) * time.Second,
			CountryCode:    cfg.Escalation.CountryCode,
		}),
	)

	// ── 6. Profile restore ───────────────────────────────────────────────
	if err := a.restoreProfile(ctx); err != nil {
		return nil, fmt.Errorf("app: restore profile: %w", err)
	}

	// ── 7. Event routing ─────────────────────────────────────────────────
	a.closers = append(a.closers, asCloser(a.bus.Subscribe(a.routeEvent)))

	// ── 8. HTTP surface ──────────────────────────────────────────────────
	api := httpapi.New(httpapi.Deps{
		Sequencer: a.sequencer,
		Registry:  a.registry,
		Monitor:   a.monitor,
		Store:     a.store,
		Bus:       a.bus,
		Detectors: a,
		Metrics:   a.metrics,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the configured persistence backend. A Postgres backend
// is wrapped in the write-through cache so reads never block on the network.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		cached := store.NewCached(store.NewPostgres(pool, ""), slog.Default())
		if err := cached.Warm(ctx); err != nil {
			slog.Warn("store warm-up failed, starting cold", "error", err)
		}
		a.store = cached
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

	default:
		a.store = store.NewMemory()
	}
	return nil
}

// initNotifier builds the alert chain: slog is always on, the configured
// provider (MQTT) joins it when present.
func (a *App) initNotifier() {
	logSink := &notify.Slog{}
	if a.providers.Notify == nil {
		a.notifier = logSink
		return
	}
	a.notifier = &notify.Multi{Notifiers: []notify.Notifier{logSink, a.providers.Notify}}
	if c, ok := a.providers.Notify.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// initDetectors constructs the geofence monitor and, when an audio source is
// available, the acoustic classifier and voice recognizer. Construction is
// unconditional for the monitor; the position watch starts lazily.
func (a *App) initDetectors() {
	var monitorOpts []geofence.Option
	if a.providers.Geocoder != nil {
		monitorOpts = append(monitorOpts, geofence.WithGeocoder(a.providers.Geocoder))
	}
	if a.cfg.Geofence.ThresholdKm > 0 {
		monitorOpts = append(monitorOpts, geofence.WithThresholdKm(a.cfg.Geofence.ThresholdKm))
	}
	if a.cfg.Geofence.RenotifyMinutes > 0 {
		monitorOpts = append(monitorOpts,
			geofence.WithRenotifyInterval(time.Duration(a.cfg.Geofence.RenotifyMinutes)*time.Minute))
	}
	a.monitor = geofence.New(a.positionOrNoop(), a.bus, a.store, monitorOpts...)

	if a.providers.Audio == nil {
		slog.Warn("no audio source configured, acoustic and voice detection unavailable")
		return
	}
	guard := audioin.NewGuard(a.providers.Audio)

	a.classifier = acoustic.New(guard, a.bus, a.store,
		acoustic.WithMetrics(a.metrics),
		acoustic.WithDetectorConfig(acoustic.DetectorConfig{
			VolumeThreshold: a.cfg.Acoustic.VolumeThreshold,
			FreqThresholdHz: a.cfg.Acoustic.FrequencyThresholdHz,
			MinDuration:     time.Duration(a.cfg.Acoustic.MinDurationMs) * time.Millisecond,
			Cooldown:        time.Duration(a.cfg.Acoustic.CooldownSeconds) * time.Second,
		}),
	)

	if a.providers.Speech != nil {
		var recOpts []voice.Option
		if t := a.cfg.Safety.VoiceConfidenceThreshold; t > 0 {
			recOpts = append(recOpts, voice.WithMatcher(
				voice.NewMatcher(voice.WithConfidenceThreshold(t))))
		}
		a.recognizer = voice.New(a.providers.Speech, guard, a.bus, a.store, recOpts...)
	} else {
		slog.Warn("no speech provider configured, voice commands unavailable")
	}
}

// restoreProfile loads the persisted safety settings and geofence state. A
// missing profile falls back to the config defaults.
func (a *App) restoreProfile(ctx context.Context) error {
	p, err := a.store.Profile(ctx)
	switch {
	case err == nil:
		a.settings = p.Safety
		a.monitor.Restore(p.Geofence)
	case isNotFound(err):
		a.settings = store.SafetySettings{
			ScreamDetectionEnabled:   a.cfg.Safety.ScreamDetection,
			VoiceCommandEnabled:      a.cfg.Safety.VoiceCommand,
			GeofenceEnabled:          a.cfg.Safety.Geofence,
			VoiceLanguage:            a.cfg.Safety.VoiceLanguage,
			VoiceConfidenceThreshold: a.cfg.Safety.VoiceConfidenceThreshold,
		}
	default:
		return err
	}
	if a.settings.VoiceLanguage == "" {
		a.settings.VoiceLanguage = a.cfg.Safety.VoiceLanguage
	}
	return nil
}

// routeEvent is the bus subscriber connecting detections to escalation and
// outbound alerts. It runs on the publisher's goroutine, so everything slow
// is either synchronous-but-cheap or already queued by the sink.
func (a *App) routeEvent(ev event.Event) {
	if ev.Detection == nil {
		return
	}
	d := ev.Detection
	ctx := context.Background()

	switch d.Kind {
	case event.KindScream, event.KindVoice:
		a.metrics.RecordDetection(ctx, string(d.Kind))
		if err := a.sequencer.Trigger(string(d.Kind)); err != nil {
			// An already-running session absorbs new detections.
			slog.Debug("detection did not trigger escalation", "kind", d.Kind, "error", err)
		}

	case event.KindGeofence:
		a.metrics.RecordDetection(ctx, string(d.Kind))
		a.metrics.RecordGeofenceBreach(ctx, d.DistanceKm)
		a.sendAlert(notify.Alert{
			Severity: notify.SeverityWarning,
			Title:    "Geofence breach",
			Body: fmt.Sprintf("%.1f km from %s", d.DistanceKm,
				orDefault(d.ZoneLabel, "safe zone anchor")),
			Source: "geofence",
		})
	}
}

// sendAlert delivers a best-effort notification off the hot path.
func (a *App) sendAlert(alert notify.Alert) {
	alert.Timestamp = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.notifier.Alert(ctx, alert); err != nil {
			slog.Warn("alert delivery failed", "title", alert.Title, "error", err)
		}
	}()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP listener and every detector enabled in the restored
// profile, then blocks until ctx is cancelled. It returns the listener error
// if serving fails, ctx.Err() otherwise.
func (a *App) Run(ctx context.Context) error {
	a.startEnabledDetectors()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("safety engine running",
		"addr", a.cfg.Server.ListenAddr,
		"scream_detection", a.classifierRunning(),
		"voice_command", a.recognizerRunning(),
		"geofence", a.Settings().GeofenceEnabled,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http listener: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startEnabledDetectors applies the restored settings. Failures degrade the
// individual feature rather than aborting startup.
func (a *App) startEnabledDetectors() {
	s := a.Settings()
	ctx := a.detectorCtx

	if s.ScreamDetectionEnabled {
		if err := a.startClassifier(ctx); err != nil {
			slog.Error("scream detection failed to start", "error", err)
		}
	}
	if s.VoiceCommandEnabled {
		if err := a.startRecognizer(ctx, s.VoiceLanguage); err != nil {
			slog.Error("voice command recognition failed to start", "error", err)
		}
	}
	if s.GeofenceEnabled {
		if err := a.monitor.Start(ctx); err != nil {
			slog.Error("geofence monitor failed to start", "error", err)
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first.
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}

		// Stop detectors, releasing the microphone and position watch.
		a.stopDetectors()
		a.detectorCancel()

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// dialerOrNoop keeps the sequencer constructible without a dialer; triggers
// then log the number instead of placing a call.
func (a *App) dialerOrNoop() dialer.Dialer {
	if a.providers.Dialer != nil {
		return a.providers.Dialer
	}
	return logDialer{}
}

func (a *App) positionOrNoop() position.Source {
	if a.providers.Position != nil {
		return a.providers.Position
	}
	return noopPosition{}
}

// logDialer is the fallback when no dialer provider is configured.
type logDialer struct{}

func (logDialer) Dial(_ context.Context, number string) error {
	slog.Warn("no dialer configured, manual call required", "number", number)
	return nil
}

// noopPosition satisfies position.Source when no provider is configured;
// enabling the geofence is rejected before it would ever be watched.
type noopPosition struct{}

func (noopPosition) Watch(context.Context, func(position.Fix)) (position.Watch, error) {
	return nil, fmt.Errorf("app: no position provider configured")
}

func asCloser(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
