package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// snapshot is one successfully loaded config plus the file state it came
// from, used to decide whether a later poll needs a reload.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and invokes a callback when its content
// changes. A file that fails to parse or validate is skipped and the
// previous config stays current, so a half-written edit never reaches the
// running engine. Polling avoids platform-specific notification APIs.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	cur      atomic.Pointer[snapshot]
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once, then polls it in a background goroutine until
// [Watcher.Stop]. onChange may be nil; when set it runs on the polling
// goroutine with the previous and the freshly loaded config.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.cur.Store(snap)

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	return w.cur.Load().cfg
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

// reload re-reads the file when its mtime moved, and swaps in the new
// config only when the content hash actually differs.
func (w *Watcher) reload() {
	prev := w.cur.Load()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(prev.mtime) {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config watcher: reload skipped, keeping previous config", "path", w.path, "err", err)
		return
	}

	if next.sum == prev.sum {
		// Touched but unchanged; remember the new mtime to skip rehashing.
		w.cur.Store(&snapshot{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return
	}

	w.cur.Store(next)
	slog.Info("config watcher: configuration reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

// readSnapshot reads, hashes, parses, and validates the file at path.
func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return &snapshot{
		cfg:   cfg,
		sum:   sha256.Sum256(data),
		mtime: info.ModTime(),
	}, nil
}
