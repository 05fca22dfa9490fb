// Package notify defines the outbound alert contract. Alerts are
// best-effort: a failed delivery is logged, never propagated into detection
// or escalation state.
package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Severity classifies an alert for downstream routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one outbound notification.
type Alert struct {
	Severity  Severity
	Title     string
	Body      string
	Source    string // producing component, e.g. "geofence", "sequencer"
	Number    string // phone number for manual-dial fallback alerts
	Timestamp time.Time
}

// Notifier delivers alerts. Implementations must not block for long; slow
// transports buffer internally.
type Notifier interface {
	Alert(ctx context.Context, a Alert) error
}

// Slog is a Notifier that writes alerts to a structured logger. It is the
// always-on fallback sink.
type Slog struct {
	Log *slog.Logger
}

var _ Notifier = (*Slog)(nil)

// Alert logs the alert at a level matching its severity.
func (n *Slog) Alert(ctx context.Context, a Alert) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}

	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{"source", a.Source, "title", a.Title, "body", a.Body}
	if a.Number != "" {
		attrs = append(attrs, "number", a.Number)
	}
	log.Log(ctx, level, "alert", attrs...)
	return nil
}

// Multi fans an alert out to several notifiers. Delivery failures are logged
// and swallowed so one broken sink cannot starve the others.
type Multi struct {
	Notifiers []Notifier
	Log       *slog.Logger
}

var _ Notifier = (*Multi)(nil)

// Alert delivers a to every configured notifier concurrently, so one slow
// transport cannot delay the others.
func (m *Multi) Alert(ctx context.Context, a Alert) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range m.Notifiers {
		g.Go(func() error {
			if err := n.Alert(ctx, a); err != nil {
				log.Warn("alert delivery failed", "title", a.Title, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
