// Package mock provides a scriptable position.Source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/position"
)

// Source implements position.Source. Fixes pushed via Emit are delivered to
// the active watch callback synchronously.
type Source struct {
	mu         sync.Mutex
	fn         func(position.Fix)
	WatchCalls int
	WatchErr   error
}

var _ position.Source = (*Source)(nil)

// New returns an empty mock Source.
func New() *Source {
	return &Source{}
}

// Watch records the call and captures fn for later Emit calls.
func (s *Source) Watch(ctx context.Context, fn func(position.Fix)) (position.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.WatchCalls++
	if s.WatchErr != nil {
		return nil, s.WatchErr
	}
	s.fn = fn
	return &watch{source: s}, nil
}

// Emit delivers a fix to the active watcher, if any.
func (s *Source) Emit(fix position.Fix) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(fix)
	}
}

type watch struct {
	once   sync.Once
	source *Source
}

func (w *watch) Stop() {
	w.once.Do(func() {
		w.source.mu.Lock()
		w.source.fn = nil
		w.source.mu.Unlock()
	})
}
