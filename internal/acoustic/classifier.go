package acoustic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/observe"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/audioin"
)

// defaultFrameLen gives ~128 ms frames at 16 kHz, four frames inside the
// 500 ms confirmation window.
const defaultFrameLen = 2048

// Opener is the slice of the audio layer the classifier needs; satisfied by
// *audioin.Guard.
type Opener interface {
	Open(ctx context.Context, frameLen int) (audioin.Stream, error)
}

// HistoryStore appends confirmed detections to the persistent history.
type HistoryStore interface {
	AppendScreamDetection(ctx context.Context, r store.ScreamRecord) error
}

// Option is a functional option for configuring the Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Classifier) {
		c.log = log
	}
}

// WithDetectorConfig overrides the detection thresholds.
func WithDetectorConfig(cfg DetectorConfig) Option {
	return func(c *Classifier) {
		c.detectorCfg = cfg
	}
}

// WithFrameLen overrides the analysis frame length in samples.
func WithFrameLen(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.frameLen = n
		}
	}
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// Classifier runs the scream detector against a live audio stream. Start and
// Stop are idempotent; the classifier holds the microphone guard while
// running.
type Classifier struct {
	opener      Opener
	bus         *event.Bus
	history     HistoryStore
	log         *slog.Logger
	metrics     *observe.Metrics
	frameLen    int
	detectorCfg DetectorConfig

	mu       sync.Mutex
	stream   audioin.Stream
	done     chan struct{}
	detector *Detector
	stats    Stats
}

// New returns a stopped Classifier.
func New(opener Opener, bus *event.Bus, history HistoryStore, opts ...Option) *Classifier {
	c := &Classifier{
		opener:   opener,
		bus:      bus,
		history:  history,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		frameLen: defaultFrameLen,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start opens the capture stream and begins analysis. Calling Start while
// running is a no-op. Device failures (permission, busy, unsupported)
// surface as the audioin sentinel errors.
func (c *Classifier) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	stream, err := c.opener.Open(ctx, c.frameLen)
	if err != nil {
		return fmt.Errorf("acoustic: start: %w", err)
	}

	c.stream = stream
	c.done = make(chan struct{})
	c.detector = NewDetector(c.detectorCfg)

	go c.run(stream, c.done)
	c.log.Info("scream detection started")
	return nil
}

// Stop ends analysis and releases the microphone. Idempotent.
func (c *Classifier) Stop() {
	c.mu.Lock()
	stream := c.stream
	done := c.done
	c.stream = nil
	c.done = nil
	c.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Close()
	<-done
	c.log.Info("scream detection stopped")
}

// Running reports whether the classifier currently holds the microphone.
func (c *Classifier) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Stats returns lifetime detection counters, accumulated across restarts.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	if c.detector != nil {
		out.Detections += c.detector.Stats().Detections
		out.FalsePositives += c.detector.Stats().FalsePositives
	}
	return out
}

func (c *Classifier) run(stream audioin.Stream, done chan struct{}) {
	defer close(done)

	seenFP := 0
	for frame := range stream.Frames() {
		m := Analyze(frame.Samples, frame.SampleRate)

		now := frame.Timestamp
		if now.IsZero() {
			now = time.Now()
		}

		c.mu.Lock()
		detector := c.detector
		c.mu.Unlock()
		if detector == nil {
			return
		}

		det, ok := detector.Observe(m, now)
		for fp := detector.Stats().FalsePositives; seenFP < fp; seenFP++ {
			c.metrics.RecordFalsePositive(context.Background())
		}
		if !ok {
			continue
		}
		c.report(det)
	}

	// Stream ended from the producer side; fold counters into the lifetime
	// stats so a restart does not reset them.
	c.mu.Lock()
	if c.detector != nil {
		c.stats.Detections += c.detector.Stats().Detections
		c.stats.FalsePositives += c.detector.Stats().FalsePositives
		c.detector = nil
	}
	c.mu.Unlock()
}

func (c *Classifier) report(det Detection) {
	c.log.Warn("scream detected",
		"volume", det.VolumeRaw, "frequency_hz", det.FrequencyHz, "duration", det.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.history.AppendScreamDetection(ctx, store.ScreamRecord{
		Timestamp:   det.Timestamp,
		VolumeRaw:   det.VolumeRaw,
		FrequencyHz: det.FrequencyHz,
		Duration:    det.Duration,
	})
	if err != nil {
		c.log.Warn("persist scream detection failed", "error", err)
	}

	c.bus.PublishDetection(event.Detection{
		Kind:        event.KindScream,
		Timestamp:   det.Timestamp,
		VolumeRaw:   det.VolumeRaw,
		FrequencyHz: det.FrequencyHz,
		Duration:    det.Duration,
	})
}
