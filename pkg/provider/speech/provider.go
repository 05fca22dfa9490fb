// Package speech defines the streaming speech-recognition provider contract.
// Sessions emit finalized utterances only; interim hypotheses never leave the
// provider. Session termination is classified as transient (restartable) or
// fatal (permission) so the voice recognizer can decide whether to silently
// restart.
package speech

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied indicates microphone or API access was refused.
	// Fatal: the recognizer must not restart on this error.
	ErrPermissionDenied = errors.New("speech: permission denied")
	// ErrSessionEnded indicates the session terminated for a transient
	// reason (silence timeout, network drop, server-side abort) and may be
	// restarted.
	ErrSessionEnded = errors.New("speech: session ended")
	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("speech: session closed")
)

// Alternative is one recognition hypothesis for an utterance.
type Alternative struct {
	Text       string
	Confidence float64
}

// Utterance is a finalized recognition result. Alternatives are in the
// provider's preference order, best first.
type Utterance struct {
	Alternatives []Alternative
	Language     string
	Timestamp    time.Time
}

// SessionConfig configures a recognition session.
type SessionConfig struct {
	// Language is the BCP-47 tag to recognize (e.g. "hi-IN").
	Language string
	// SampleRate of the PCM audio that will be sent, in Hz.
	SampleRate int
	// Keywords biases recognition toward the given phrases where the
	// provider supports it.
	Keywords []string
	// MaxAlternatives caps hypotheses per utterance. 0 means provider default.
	MaxAlternatives int
}

// Session is a live recognition session.
type Session interface {
	// SendAudio queues little-endian 16-bit PCM for recognition.
	SendAudio(chunk []byte) error
	// Finals returns the channel of finalized utterances. Closed when the
	// session ends for any reason.
	Finals() <-chan Utterance
	// Err reports why the session ended. Valid after Finals is closed;
	// nil means a clean local Close.
	Err() error
	// Close terminates the session. Idempotent.
	Close() error
}

// Provider opens recognition sessions.
type Provider interface {
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// IsTransient reports whether err is a session termination the recognizer
// should silently restart from. Permission errors and nil are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermissionDenied)
}
