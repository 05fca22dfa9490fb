// Package mock provides synthetic audioin sources for tests: a scriptable
// frame source plus sine and noise generators for exercising the acoustic
// analysis path.
package mock

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/audioin"
)

// Source implements audioin.Source. Frames pushed via Emit are delivered to
// the open stream.
type Source struct {
	mu        sync.Mutex
	frames    chan audioin.Frame
	OpenCalls int
	OpenErr   error
}

var _ audioin.Source = (*Source)(nil)

// New returns an empty mock Source.
func New() *Source {
	return &Source{}
}

// Open records the call and returns a stream fed by Emit.
func (s *Source) Open(ctx context.Context, frameLen int) (audioin.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.frames = make(chan audioin.Frame, 64)
	return &stream{source: s, frames: s.frames}, nil
}

// Emit delivers a frame to the open stream. It panics if no stream is open.
func (s *Source) Emit(frame audioin.Frame) {
	s.mu.Lock()
	ch := s.frames
	s.mu.Unlock()
	ch <- frame
}

// CloseStream ends the open stream from the producer side.
func (s *Source) CloseStream() {
	s.mu.Lock()
	ch := s.frames
	s.frames = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

type stream struct {
	source *Source
	frames chan audioin.Frame
	once   sync.Once
}

func (st *stream) Frames() <-chan audioin.Frame { return st.frames }

func (st *stream) Close() error {
	st.once.Do(func() {
		st.source.mu.Lock()
		if st.source.frames == st.frames {
			st.source.frames = nil
		}
		st.source.mu.Unlock()
		close(st.frames)
	})
	return nil
}

// Sine fills a frame with a pure tone at freqHz scaled by amplitude [0, 1].
func Sine(freqHz float64, amplitude float64, frameLen, sampleRate int) audioin.Frame {
	samples := make([]float32, frameLen)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
	}
	return audioin.Frame{Samples: samples, SampleRate: sampleRate}
}

// Noise fills a frame with uniform noise scaled by amplitude [0, 1].
func Noise(amplitude float64, frameLen, sampleRate int) audioin.Frame {
	samples := make([]float32, frameLen)
	for i := range samples {
		samples[i] = float32(amplitude * (2*rand.Float64() - 1))
	}
	return audioin.Frame{Samples: samples, SampleRate: sampleRate}
}

// Silence returns an all-zero frame.
func Silence(frameLen, sampleRate int) audioin.Frame {
	return audioin.Frame{Samples: make([]float32, frameLen), SampleRate: sampleRate}
}
