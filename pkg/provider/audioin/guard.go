package audioin

import (
	"context"
	"fmt"
	"sync"
)

// Guard wraps a Source and enforces that at most one consumer holds the
// capture device at a time. A second Open while a stream is live fails with
// ErrDeviceBusy; closing the held stream releases the device.
type Guard struct {
	source Source

	mu   sync.Mutex
	held bool
}

// NewGuard returns a Guard over source.
func NewGuard(source Source) *Guard {
	return &Guard{source: source}
}

// Open acquires the device and opens a stream on the wrapped source.
func (g *Guard) Open(ctx context.Context, frameLen int) (Stream, error) {
	g.mu.Lock()
	if g.held {
		g.mu.Unlock()
		return nil, fmt.Errorf("audioin: open: %w", ErrDeviceBusy)
	}
	g.held = true
	g.mu.Unlock()

	inner, err := g.source.Open(ctx, frameLen)
	if err != nil {
		g.release()
		return nil, err
	}
	return &guardedStream{Stream: inner, guard: g}, nil
}

func (g *Guard) release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}

// guardedStream releases the Guard exactly once on Close.
type guardedStream struct {
	Stream
	guard *Guard
	once  sync.Once
}

func (s *guardedStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.guard.release)
	return err
}
