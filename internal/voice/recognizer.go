package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/audioin"
	"github.com/kavach-app/kavach/pkg/provider/speech"
)

const (
	defaultFrameLen   = 1024
	defaultSampleRate = 16000

	// Restart backoff after a transient session end. Continuous listening
	// means sessions end all the time (silence timeouts, network blips);
	// restarts are silent and quick, but back off when they keep failing.
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Opener is the slice of the audio layer the recognizer needs; satisfied by
// *audioin.Guard.
type Opener interface {
	Open(ctx context.Context, frameLen int) (audioin.Stream, error)
}

// HistoryStore appends recognized commands to the persistent history.
type HistoryStore interface {
	AppendVoiceCommand(ctx context.Context, r store.VoiceCommandRecord) error
}

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Recognizer) {
		r.log = log
	}
}

// WithMatcher overrides the keyword matcher.
func WithMatcher(m *Matcher) Option {
	return func(r *Recognizer) {
		r.matcher = m
	}
}

// WithSampleRate sets the capture sample rate advertised to the provider.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// WithRestartBackoff overrides the transient-restart backoff bounds.
func WithRestartBackoff(initial, max time.Duration) Option {
	return func(r *Recognizer) {
		if initial > 0 {
			r.initialBackoff = initial
		}
		if max > 0 {
			r.maxBackoff = max
		}
	}
}

// Recognizer runs a continuous recognition session over the microphone and
// publishes a voice detection for every matched distress command. Transient
// session terminations restart silently; a permission denial is fatal to the
// feature and reported via Err.
type Recognizer struct {
	provider speech.Provider
	opener   Opener
	matcher  *Matcher
	bus      *event.Bus
	history  HistoryStore
	log      *slog.Logger

	frameLen       int
	sampleRate     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	language string
	fatalErr error
}

// New returns a stopped Recognizer.
func New(provider speech.Provider, opener Opener, bus *event.Bus, history HistoryStore, opts ...Option) *Recognizer {
	r := &Recognizer{
		provider:       provider,
		opener:         opener,
		matcher:        NewMatcher(),
		bus:            bus,
		history:        history,
		log:            slog.Default(),
		frameLen:       defaultFrameLen,
		sampleRate:     defaultSampleRate,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins continuous recognition in the given language. A language
// without a keyword set falls back to the default. Calling Start while
// running is a no-op.
func (r *Recognizer) Start(ctx context.Context, language string) error {
	if Keywords(language) == nil {
		r.log.Warn("no keyword set for language, using fallback",
			"language", language, "fallback", FallbackLanguage)
		language = FallbackLanguage
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	stream, err := r.opener.Open(ctx, r.frameLen)
	if err != nil {
		return fmt.Errorf("voice: start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	if r.cancel != nil {
		// Lost the race with a concurrent Start.
		r.mu.Unlock()
		cancel()
		stream.Close()
		return nil
	}
	r.cancel = cancel
	r.done = done
	r.language = language
	r.fatalErr = nil
	r.mu.Unlock()

	go r.run(runCtx, cancel, stream, language, done)
	r.log.Info("voice command recognition started", "language", language)
	return nil
}

// Stop ends recognition and releases the microphone. Idempotent.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("voice command recognition stopped")
}

// Running reports whether recognition is active.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Language returns the active recognition language.
func (r *Recognizer) Language() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.language
}

// Err returns the fatal error that stopped recognition, if any.
func (r *Recognizer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

func (r *Recognizer) run(ctx context.Context, cancel context.CancelFunc, stream audioin.Stream, language string, done chan struct{}) {
	defer close(done)
	defer stream.Close()
	defer cancel()
	defer func() {
		// Clear running state unless Stop already did.
		r.mu.Lock()
		if r.done == done {
			r.cancel = nil
			r.done = nil
		}
		r.mu.Unlock()
	}()

	backoff := r.initialBackoff
	for {
		restart, fatal := r.runSession(ctx, stream, language)
		if !restart {
			if fatal != nil {
				r.mu.Lock()
				r.fatalErr = fatal
				r.mu.Unlock()
				r.log.Error("voice command recognition disabled", "error", fatal)
			}
			return
		}

		r.log.Debug("restarting recognition session", "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// runSession drives one provider session until it ends. restart=true means
// the caller should open a new session; fatal is non-nil when the feature
// must shut down.
func (r *Recognizer) runSession(ctx context.Context, stream audioin.Stream, language string) (restart bool, fatal error) {
	keywords := append([]string(nil), Keywords(language)...)
	if language != FallbackLanguage {
		keywords = append(keywords, Keywords(FallbackLanguage)...)
	}

	sess, err := r.provider.StartSession(ctx, speech.SessionConfig{
		Language:        language,
		SampleRate:      r.sampleRate,
		Keywords:        keywords,
		MaxAlternatives: 3,
	})
	if err != nil {
		if errors.Is(err, speech.ErrPermissionDenied) {
			return false, err
		}
		if ctx.Err() != nil {
			return false, nil
		}
		return true, nil
	}
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return false, nil

		case frame, ok := <-stream.Frames():
			if !ok {
				// Microphone gone; nothing left to recognize.
				return false, nil
			}
			if err := sess.SendAudio(pcmBytes(frame.Samples)); err != nil {
				// Session is closing; the Finals branch decides what next.
				continue
			}

		case utt, ok := <-sess.Finals():
			if !ok {
				err := sess.Err()
				if err == nil {
					return false, nil
				}
				if speech.IsTransient(err) {
					return true, nil
				}
				return false, err
			}
			r.handleUtterance(utt, language)
		}
	}
}

func (r *Recognizer) handleUtterance(utt speech.Utterance, language string) {
	match, ok := r.matcher.Match(utt, language)
	if !ok {
		return
	}

	r.log.Warn("distress command recognized",
		"transcript", match.Transcript, "keyword", match.Keyword,
		"language", match.Language, "confidence", match.Confidence)

	ts := utt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.history.AppendVoiceCommand(ctx, store.VoiceCommandRecord{
		Timestamp:  ts,
		Transcript: match.Transcript,
		Language:   match.Language,
		Confidence: match.Confidence,
	})
	if err != nil {
		r.log.Warn("persist voice command failed", "error", err)
	}

	r.bus.PublishDetection(event.Detection{
		Kind:       event.KindVoice,
		Timestamp:  ts,
		Confidence: match.Confidence,
		Transcript: match.Transcript,
		Language:   match.Language,
	})
}

// pcmBytes converts normalized samples to little-endian 16-bit PCM.
func pcmBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
