// Package escalate implements the emergency escalation sequencer: a
// cancellable countdown followed by sequential dialing through the contact
// snapshot with per-contact confirmation. The sequencer is the only
// component allowed to place emergency calls.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/observe"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/dialer"
	"github.com/kavach-app/kavach/pkg/provider/notify"
)

// State is the sequencer's lifecycle state.
type State string

const (
	StateIdle                 State = "idle"
	StateCountingDown         State = "counting_down"
	StateDialing              State = "dialing"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
)

// Attempt statuses in the session log.
const (
	AttemptInitiated = "initiated"
	AttemptCalled    = "called"
	AttemptFailed    = "failed"
)

var (
	// ErrNoContactsConfigured aborts a trigger when the contact list is empty.
	ErrNoContactsConfigured = errors.New("escalate: no emergency contacts configured")
	// ErrInvalidState rejects an operation in the wrong state.
	ErrInvalidState = errors.New("escalate: invalid state for operation")
	// ErrNoSuchContact rejects a quick-call for an index out of range.
	ErrNoSuchContact = errors.New("escalate: no such contact")
)

// ContactSource provides contact snapshots; satisfied by *registry.Registry.
type ContactSource interface {
	// Snapshot returns the contacts an escalation session works through,
	// already in escalation order.
	Snapshot() []store.Contact
	// Contacts returns the full ordered list, for quick-calls.
	Contacts() []store.Contact
}

// HistoryStore persists finished escalation sessions.
type HistoryStore interface {
	AppendEmergencyEvent(ctx context.Context, e store.EmergencyEvent) error
}

// Config tunes the sequencer timings. Zero fields use production defaults.
type Config struct {
	CountdownTicks int           // countdown length in ticks (default 3)
	TickInterval   time.Duration // time per countdown tick (default 1s)
	DialDelay      time.Duration // wait after a dial before confirmation (default 5s)
	DisplayDelay   time.Duration // how long terminal states linger (default 5s)
	CountryCode    string        // default country code for normalization
}

func (c Config) withDefaults() Config {
	if c.CountdownTicks <= 0 {
		c.CountdownTicks = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DialDelay <= 0 {
		c.DialDelay = 5 * time.Second
	}
	if c.DisplayDelay <= 0 {
		c.DisplayDelay = 5 * time.Second
	}
	if c.CountryCode == "" {
		c.CountryCode = DefaultCountryCode
	}
	return c
}

// Status is a read-only view of the sequencer for surfaces.
type Status struct {
	State              State
	SessionID          string
	Reason             string
	StartedAt          time.Time
	CountdownRemaining int
	ContactName        string
	ContactNumber      string
	Attempts           []store.DialAttempt
}

// Sequencer is the escalation state machine. All transitions run under one
// mutex; timers are invalidated by a generation counter so a cancelled
// session's timers can never touch a newer one.
type Sequencer struct {
	contacts ContactSource
	dialer   dialer.Dialer
	notifier notify.Notifier
	history  HistoryStore
	bus      *event.Bus
	log      *slog.Logger
	metrics  *observe.Metrics
	cfg      Config

	mu        sync.Mutex
	state     State
	gen       uint64
	timer     *time.Timer
	sessionID string
	reason    string
	startedAt time.Time
	snapshot  []store.Contact
	index     int
	remaining int
	attempts  []store.DialAttempt
}

// Option is a functional option for configuring the Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sequencer) {
		s.log = log
	}
}

// WithConfig overrides the timing configuration.
func WithConfig(cfg Config) Option {
	return func(s *Sequencer) {
		s.cfg = cfg.withDefaults()
	}
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

// New returns an idle Sequencer.
func New(contacts ContactSource, d dialer.Dialer, n notify.Notifier, h HistoryStore, bus *event.Bus, opts ...Option) *Sequencer {
	s := &Sequencer{
		contacts: contacts,
		dialer:   d,
		notifier: n,
		history:  h,
		bus:      bus,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		cfg:      Config{}.withDefaults(),
		state:    StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Trigger starts an escalation session. While a session is active (any
// non-Idle state) additional triggers are ignored. An empty contact list
// aborts immediately with ErrNoContactsConfigured and the sequencer stays
// Idle.
func (s *Sequencer) Trigger(reason string) error {
	s.mu.Lock()

	if s.state != StateIdle {
		s.mu.Unlock()
		s.log.Debug("trigger ignored, session active", "state", string(s.state), "reason", reason)
		return nil
	}

	snapshot := s.contacts.Snapshot()
	if len(snapshot) == 0 {
		s.mu.Unlock()
		s.log.Error("escalation aborted, no contacts configured", "reason", reason)
		s.alert(notify.Alert{
			Severity: notify.SeverityCritical,
			Title:    "Emergency detected but no contacts configured",
			Body:     "Add emergency contacts to enable automatic calling.",
			Source:   "sequencer",
		})
		return ErrNoContactsConfigured
	}

	s.state = StateCountingDown
	s.gen++
	s.sessionID = uuid.NewString()
	s.reason = reason
	s.startedAt = time.Now()
	s.snapshot = snapshot
	s.index = 0
	s.remaining = s.cfg.CountdownTicks
	s.attempts = nil

	gen := s.gen
	s.log.Warn("escalation countdown started",
		"session", s.sessionID, "reason", reason, "contacts", len(snapshot))
	s.publishLocked()
	s.scheduleLocked(s.cfg.TickInterval, func() { s.tick(gen) })
	s.mu.Unlock()
	return nil
}

// Cancel aborts the active session. During the countdown no call is made and
// nothing is persisted; a transient Cancelled event is published before the
// sequencer returns to Idle so surfaces can show the abort. Once dialing has
// begun the session ends in the Cancelled terminal state and is persisted.
// Pending timers are stopped synchronously.
func (s *Sequencer) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCountingDown:
		s.log.Info("escalation cancelled during countdown", "session", s.sessionID)
		s.metrics.RecordCountdownCancellation(context.Background())
		s.state = StateCancelled
		s.publishLocked()
		s.resetLocked()
		return nil
	case StateDialing, StateAwaitingConfirmation:
		s.finishLocked("cancelled", StateCancelled)
		return nil
	default:
		return fmt.Errorf("%w: cancel in %s", ErrInvalidState, s.state)
	}
}

// Continue acknowledges the confirmation prompt and dials the next contact.
func (s *Sequencer) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingConfirmation {
		return fmt.Errorf("%w: continue in %s", ErrInvalidState, s.state)
	}
	s.dialLocked()
	return nil
}

// Stop acknowledges the confirmation prompt and ends the session as
// Cancelled (the caller reports being safe).
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingConfirmation {
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, s.state)
	}
	s.finishLocked("cancelled", StateCancelled)
	return nil
}

// Dismiss clears a terminal state immediately instead of waiting out the
// display delay.
func (s *Sequencer) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCompleted && s.state != StateCancelled {
		return fmt.Errorf("%w: dismiss in %s", ErrInvalidState, s.state)
	}
	s.resetLocked()
	return nil
}

// QuickCall dials the contact at index in the full contact list without
// touching session state.
func (s *Sequencer) QuickCall(ctx context.Context, index int) error {
	contacts := s.contacts.Contacts()
	if index < 0 || index >= len(contacts) {
		return fmt.Errorf("%w: index %d of %d", ErrNoSuchContact, index, len(contacts))
	}

	contact := contacts[index]
	number := NormalizePhone(contact.Phone, s.cfg.CountryCode)
	s.log.Warn("quick call", "contact", contact.Name, "number", number)

	s.metrics.RecordDialAttempt(ctx, AttemptInitiated)
	if err := s.dialer.Dial(ctx, number); err != nil {
		s.metrics.RecordDialAttempt(ctx, AttemptFailed)
		s.alert(notify.Alert{
			Severity: notify.SeverityCritical,
			Title:    "Quick call failed — dial manually",
			Body:     fmt.Sprintf("Could not call %s.", contact.Name),
			Source:   "sequencer",
			Number:   number,
		})
		return fmt.Errorf("escalate: quick call: %w", err)
	}
	return nil
}

// Status returns a copy of the current sequencer state.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:              s.state,
		SessionID:          s.sessionID,
		Reason:             s.reason,
		StartedAt:          s.startedAt,
		CountdownRemaining: s.remaining,
		Attempts:           append([]store.DialAttempt(nil), s.attempts...),
	}
	if s.state == StateDialing || s.state == StateAwaitingConfirmation {
		if i := s.currentAttemptIndex(); i >= 0 {
			st.ContactName = s.attempts[i].ContactName
			st.ContactNumber = s.attempts[i].Number
		}
	}
	return st
}

// ---- internal transitions (all *Locked methods require s.mu held) ----

// tick advances the countdown by one interval.
func (s *Sequencer) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateCountingDown {
		return
	}

	s.remaining--
	if s.remaining > 0 {
		s.publishLocked()
		s.scheduleLocked(s.cfg.TickInterval, func() { s.tick(gen) })
		return
	}
	s.dialLocked()
}

// dialLocked dials the contact at the current index and schedules the
// confirmation transition. Dial failure is recorded on the attempt and
// surfaced with the number; the session still proceeds so the user can move
// on to the next contact.
func (s *Sequencer) dialLocked() {
	contact := s.snapshot[s.index]
	number := NormalizePhone(contact.Phone, s.cfg.CountryCode)

	s.state = StateDialing
	s.attempts = append(s.attempts, store.DialAttempt{
		ContactName: contact.Name,
		Number:      number,
		Status:      AttemptInitiated,
		Timestamp:   time.Now(),
	})
	attemptIdx := len(s.attempts) - 1
	gen := s.gen

	s.metrics.RecordDialAttempt(context.Background(), AttemptInitiated)
	s.log.Warn("dialing emergency contact",
		"session", s.sessionID, "contact", contact.Name, "number", number,
		"attempt", attemptIdx+1, "of", len(s.snapshot))
	s.publishLocked()

	go s.dial(gen, attemptIdx, contact.Name, number)
	s.scheduleLocked(s.cfg.DialDelay, func() { s.awaitConfirmation(gen) })
}

// dial performs the fire-and-forget hand-off off the lock.
func (s *Sequencer) dial(gen uint64, attemptIdx int, contactName, number string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.dialer.Dial(ctx, number)
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.gen == gen && attemptIdx < len(s.attempts) {
		s.attempts[attemptIdx].Status = AttemptFailed
	}
	s.mu.Unlock()

	s.metrics.RecordDialAttempt(context.Background(), AttemptFailed)
	s.log.Error("dial failed", "contact", contactName, "number", number, "error", err)
	s.alert(notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    "Automatic call failed — dial manually",
		Body:     fmt.Sprintf("Could not reach %s automatically.", contactName),
		Source:   "sequencer",
		Number:   number,
	})
}

// awaitConfirmation moves Dialing → AwaitingConfirmation, marks the attempt
// called, and advances the index. An exhausted snapshot completes the
// session instead.
func (s *Sequencer) awaitConfirmation(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateDialing {
		return
	}

	if i := s.currentAttemptIndex(); i >= 0 && s.attempts[i].Status == AttemptInitiated {
		s.attempts[i].Status = AttemptCalled
	}
	s.index++

	if s.index >= len(s.snapshot) {
		s.finishLocked("completed", StateCompleted)
		return
	}
	s.state = StateAwaitingConfirmation
	s.publishLocked()
}

// finishLocked moves the session to a terminal state, persists it, and
// schedules the auto-reset.
func (s *Sequencer) finishLocked(outcome string, terminal State) {
	s.state = terminal
	gen := s.gen

	ev := store.EmergencyEvent{
		ID:        s.sessionID,
		Reason:    s.reason,
		Outcome:   outcome,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
		Attempts:  append([]store.DialAttempt(nil), s.attempts...),
	}
	s.metrics.RecordSessionOutcome(context.Background(), outcome)
	s.log.Warn("escalation session finished",
		"session", s.sessionID, "outcome", outcome, "attempts", len(s.attempts))
	s.publishLocked()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.history.AppendEmergencyEvent(ctx, ev); err != nil {
			s.log.Warn("persist emergency event failed", "error", err)
		}
	}()

	s.scheduleLocked(s.cfg.DisplayDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen == gen && (s.state == StateCompleted || s.state == StateCancelled) {
			s.resetLocked()
		}
	})
}

// resetLocked returns the sequencer to Idle, invalidating all timers.
func (s *Sequencer) resetLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
	s.sessionID = ""
	s.reason = ""
	s.startedAt = time.Time{}
	s.snapshot = nil
	s.index = 0
	s.remaining = 0
	s.attempts = nil
	s.publishLocked()
}

// scheduleLocked replaces the pending timer.
func (s *Sequencer) scheduleLocked(d time.Duration, fn func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, fn)
}

// currentAttemptIndex returns the attempts index for the contact currently
// being dialed, or -1.
func (s *Sequencer) currentAttemptIndex() int {
	if len(s.attempts) == 0 {
		return -1
	}
	return len(s.attempts) - 1
}

// publishLocked emits the current state on the event bus.
func (s *Sequencer) publishLocked() {
	esc := event.Escalation{
		SessionID:          s.sessionID,
		State:              string(s.state),
		Reason:             s.reason,
		Timestamp:          time.Now(),
		CountdownRemaining: s.remaining,
		AttemptCount:       len(s.attempts),
	}
	if i := s.currentAttemptIndex(); i >= 0 && (s.state == StateDialing || s.state == StateAwaitingConfirmation) {
		esc.ContactName = s.attempts[i].ContactName
		esc.ContactNumber = s.attempts[i].Number
	}
	s.bus.PublishEscalation(esc)
}

// alert sends a best-effort notification off the hot path.
func (s *Sequencer) alert(a notify.Alert) {
	a.Timestamp = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Alert(ctx, a); err != nil {
			s.log.Warn("alert delivery failed", "title", a.Title, "error", err)
		}
	}()
}
