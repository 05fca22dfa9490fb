// Package deepgram implements speech.Provider against the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kavach-app/kavach/pkg/provider/speech"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-IN"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language when the session config
// leaves it empty.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements speech.Provider backed by Deepgram.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

var _ speech.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartSession opens a streaming recognition session.
func (p *Provider) StartSession(ctx context.Context, cfg speech.SessionConfig) (speech.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial: %w", speech.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	sess := &session{
		conn:     conn,
		language: lang,
		finals:   make(chan speech.Utterance, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg speech.SessionConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "false")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	if cfg.MaxAlternatives > 1 {
		q.Set("alternatives", strconv.Itoa(cfg.MaxAlternatives))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure of a Deepgram Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live streaming session. It implements speech.Session.
type session struct {
	conn     *websocket.Conn
	language string
	finals   chan speech.Utterance
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// SendAudio queues a PCM chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return speech.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return speech.ErrSessionClosed
	}
}

// Finals returns the channel of finalized utterances.
func (s *session) Finals() <-chan speech.Utterance { return s.finals }

// Err reports why the session ended.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// CloseStream flushes audio still buffered server-side.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain buffered audio before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages and dispatches finalized utterances.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Local close; not an error.
			default:
				s.setErr(fmt.Errorf("deepgram: read: %v: %w", err, speech.ErrSessionEnded))
			}
			return
		}

		utt, ok := s.parseResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.finals <- utt:
		case <-s.done:
		}
	}
}

// parseResponse parses a raw message into an Utterance. Interim results and
// empty transcripts are dropped.
func (s *session) parseResponse(data []byte) (speech.Utterance, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return speech.Utterance{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return speech.Utterance{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return speech.Utterance{}, false
	}

	alts := make([]speech.Alternative, 0, len(resp.Channel.Alternatives))
	for _, a := range resp.Channel.Alternatives {
		if a.Transcript == "" {
			continue
		}
		alts = append(alts, speech.Alternative{Text: a.Transcript, Confidence: a.Confidence})
	}
	if len(alts) == 0 {
		return speech.Utterance{}, false
	}

	return speech.Utterance{
		Alternatives: alts,
		Language:     s.language,
		Timestamp:    time.Now(),
	}, true
}
