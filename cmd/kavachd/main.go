// Command kavachd is the main entry point for the Kavach personal safety engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kavach-app/kavach/internal/app"
	"github.com/kavach-app/kavach/internal/config"
	"github.com/kavach-app/kavach/internal/observe"
	"github.com/kavach-app/kavach/pkg/provider/audioin"
	"github.com/kavach-app/kavach/pkg/provider/dialer"
	"github.com/kavach-app/kavach/pkg/provider/dialer/webhook"
	"github.com/kavach-app/kavach/pkg/provider/geocode"
	"github.com/kavach-app/kavach/pkg/provider/geocode/nominatim"
	"github.com/kavach-app/kavach/pkg/provider/notify/mqtt"
	"github.com/kavach-app/kavach/pkg/provider/position"
	"github.com/kavach-app/kavach/pkg/provider/position/gpsd"
	"github.com/kavach-app/kavach/pkg/provider/speech"
	"github.com/kavach-app/kavach/pkg/provider/speech/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kavachd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kavachd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("kavachd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "kavach",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.Reload(context.Background(), new, d)
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("engine ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSpeech("deepgram", func(entry config.ProviderEntry) (speech.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterPosition("gpsd", func(entry config.ProviderEntry) (position.Source, error) {
		var opts []gpsd.Option
		if entry.BaseURL != "" {
			opts = append(opts, gpsd.WithAddr(entry.BaseURL))
		}
		return gpsd.New(opts...), nil
	})

	reg.RegisterDialer("webhook", func(entry config.ProviderEntry) (dialer.Dialer, error) {
		var opts []webhook.Option
		if entry.APIKey != "" {
			opts = append(opts, webhook.WithAuthToken(entry.APIKey))
		}
		return webhook.New(entry.BaseURL, opts...)
	})

	reg.RegisterGeocoder("nominatim", func(entry config.ProviderEntry) (geocode.ReverseGeocoder, error) {
		var opts []nominatim.Option
		if entry.BaseURL != "" {
			opts = append(opts, nominatim.WithEndpoint(entry.BaseURL))
		}
		return nominatim.New(opts...), nil
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Speech.Name; name != "" {
		p, err := reg.CreateSpeech(cfg.Providers.Speech)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "speech", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create speech provider %q: %w", name, err)
		} else {
			ps.Speech = p
			slog.Info("provider created", "kind", "speech", "name", name)
		}
	}

	if name := cfg.Providers.Position.Name; name != "" {
		p, err := reg.CreatePosition(cfg.Providers.Position)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "position", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create position provider %q: %w", name, err)
		} else {
			ps.Position = p
			slog.Info("provider created", "kind", "position", "name", name)
		}
	}

	if name := cfg.Providers.Dialer.Name; name != "" {
		p, err := reg.CreateDialer(cfg.Providers.Dialer)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "dialer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create dialer provider %q: %w", name, err)
		} else {
			ps.Dialer = p
			slog.Info("provider created", "kind", "dialer", "name", name)
		}
	}

	if name := cfg.Providers.Geocoder.Name; name != "" {
		p, err := reg.CreateGeocoder(cfg.Providers.Geocoder)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "geocoder", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create geocoder provider %q: %w", name, err)
		} else {
			ps.Geocoder = p
			slog.Info("provider created", "kind", "geocoder", "name", name)
		}
	}

	// The audio source is constructed directly: the only built-in capture
	// backend is WAV replay, fed by an external recorder pipe.
	if cfg.Providers.Audio.Name == "wav" {
		path := cfg.Providers.Audio.BaseURL
		if path == "" {
			path = optString(cfg.Providers.Audio.Options, "path")
		}
		if path == "" {
			return nil, errors.New("audio provider \"wav\" requires base_url or options.path")
		}
		loop := optBool(cfg.Providers.Audio.Options, "loop")
		ps.Audio = audioin.NewWavSource(path, loop)
		slog.Info("provider created", "kind", "audio", "name", "wav", "path", path)
	}

	if broker := cfg.Providers.Notify.MQTTBroker; broker != "" {
		clientID := cfg.Providers.Notify.MQTTClientID
		if clientID == "" {
			clientID = "kavach-engine"
		}
		var opts []mqtt.Option
		if u := cfg.Providers.Notify.MQTTUsername; u != "" {
			opts = append(opts, mqtt.WithCredentials(u, cfg.Providers.Notify.MQTTPassword))
		}
		n, err := mqtt.New(broker, clientID, opts...)
		if err != nil {
			return nil, fmt.Errorf("create mqtt notifier: %w", err)
		}
		ps.Notify = n
		slog.Info("provider created", "kind", "notify", "name", "mqtt", "broker", broker)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Kavach — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Speech", cfg.Providers.Speech.Name, cfg.Providers.Speech.Model)
	printProvider("Position", cfg.Providers.Position.Name, "")
	printProvider("Dialer", cfg.Providers.Dialer.Name, "")
	printProvider("Geocoder", cfg.Providers.Geocoder.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	if cfg.Providers.Notify.MQTTBroker != "" {
		fmt.Printf("║  MQTT alerts     : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  MQTT alerts     : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Store backend   : %-19s ║\n", storeName(cfg.Store.Backend))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func storeName(b config.StoreBackend) string {
	if b == "" {
		return string(config.StoreMemory)
	}
	return string(b)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger with a settable level so the config
// watcher can change verbosity without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optBool extracts a bool value from a provider Options map.
func optBool(opts map[string]any, key string) bool {
	if opts == nil {
		return false
	}
	b, _ := opts[key].(bool)
	return b
}
