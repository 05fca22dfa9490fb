// Package mock provides a scriptable speech.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/speech"
)

// Provider implements speech.Provider. Each StartSession call returns the
// next scripted session (or a fresh empty one when the script is exhausted).
type Provider struct {
	mu        sync.Mutex
	scripted  []*Session
	sessions  []*Session
	callCfgs  []speech.SessionConfig
	StartErr  error
	StartErrs []error // per-call errors, consumed before StartErr
}

var _ speech.Provider = (*Provider)(nil)
var _ speech.Session = (*Session)(nil)

// NewProvider returns an empty mock Provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Script queues sessions to return from successive StartSession calls.
func (p *Provider) Script(sessions ...*Session) {
	p.mu.Lock()
	p.scripted = append(p.scripted, sessions...)
	p.mu.Unlock()
}

// StartSession returns the next scripted session.
func (p *Provider) StartSession(ctx context.Context, cfg speech.SessionConfig) (speech.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callCfgs = append(p.callCfgs, cfg)
	if len(p.StartErrs) > 0 {
		err := p.StartErrs[0]
		p.StartErrs = p.StartErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.StartErr != nil {
		return nil, p.StartErr
	}

	var s *Session
	if len(p.scripted) > 0 {
		s = p.scripted[0]
		p.scripted = p.scripted[1:]
	} else {
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Configs returns the configs of every StartSession call so far.
func (p *Provider) Configs() []speech.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]speech.SessionConfig(nil), p.callCfgs...)
}

// Session implements speech.Session with test-controlled utterances.
type Session struct {
	mu     sync.Mutex
	finals chan speech.Utterance
	err    error
	closed bool

	SentAudio [][]byte
}

// NewSession returns an open mock Session.
func NewSession() *Session {
	return &Session{finals: make(chan speech.Utterance, 16)}
}

// EmitFinal delivers a finalized utterance to the consumer.
func (s *Session) EmitFinal(utt speech.Utterance) {
	s.finals <- utt
}

// End terminates the session with err, closing Finals.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.finals)
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return speech.ErrSessionClosed
	}
	s.SentAudio = append(s.SentAudio, chunk)
	return nil
}

// AudioChunks returns a copy of everything sent via SendAudio.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.SentAudio...)
}

// Finals returns the utterance channel.
func (s *Session) Finals() <-chan speech.Utterance { return s.finals }

// Err reports the scripted termination error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session without error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.finals)
	return nil
}
