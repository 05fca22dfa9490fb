// Package gpsd implements position.Source against a gpsd daemon over its
// JSON streaming protocol. It connects over TCP, enables WATCH mode, and
// forwards every TPV report that carries a 2D or better fix.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kavach-app/kavach/pkg/provider/position"
)

const (
	defaultAddr    = "localhost:2947"
	dialTimeout    = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// watchCommand enables gpsd's JSON streaming mode.
const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// tpvReport is the subset of a gpsd TPV message we consume.
// Mode 2 is a 2D fix, mode 3 a 3D fix.
type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"`
	Time  string  `json:"time"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	EPX   float64 `json:"epx"`
	EPY   float64 `json:"epy"`
}

// Option is a functional option for configuring the Source.
type Option func(*Source)

// WithAddr sets the gpsd address. Default: localhost:2947.
func WithAddr(addr string) Option {
	return func(s *Source) {
		s.addr = addr
	}
}

// WithLogger sets the logger used for connection events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// Source implements position.Source backed by gpsd.
type Source struct {
	addr string
	log  *slog.Logger
}

var _ position.Source = (*Source)(nil)

// New returns a gpsd Source configured with the supplied options.
func New(opts ...Option) *Source {
	s := &Source{
		addr: defaultAddr,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Watch connects to gpsd and delivers fixes to fn until ctx is cancelled or
// the returned watch is stopped. Connection loss triggers reconnection; the
// initial connection must succeed or Watch fails.
func (s *Source) Watch(ctx context.Context, fn func(position.Fix)) (position.Watch, error) {
	conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("gpsd: connect %s: %w", s.addr, position.ErrUnsupported)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel}

	go s.run(ctx, conn, fn)
	return w, nil
}

type watch struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (w *watch) Stop() {
	w.once.Do(w.cancel)
}

// run streams TPV reports from conn, reconnecting on stream errors until ctx
// is cancelled.
func (s *Source) run(ctx context.Context, conn net.Conn, fn func(position.Fix)) {
	for {
		s.stream(ctx, conn, fn)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		var err error
		conn, err = net.DialTimeout("tcp", s.addr, dialTimeout)
		if err != nil {
			s.log.Warn("gpsd reconnect failed", "addr", s.addr, "error", err)
			// Retry on the next loop iteration after the delay.
			conn = nil
			for conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				conn, err = net.DialTimeout("tcp", s.addr, dialTimeout)
				if err != nil {
					conn = nil
				}
			}
		}
		s.log.Info("gpsd reconnected", "addr", s.addr)
	}
}

// stream enables WATCH mode on conn and forwards fixes until the connection
// breaks or ctx is cancelled.
func (s *Source) stream(ctx context.Context, conn net.Conn, fn func(position.Fix)) {
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		s.log.Warn("gpsd watch command failed", "error", err)
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var tpv tpvReport
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			continue
		}
		if tpv.Class != "TPV" || tpv.Mode < 2 {
			continue
		}

		fix := position.Fix{
			Latitude:  tpv.Lat,
			Longitude: tpv.Lon,
			AccuracyM: maxF(tpv.EPX, tpv.EPY),
			Timestamp: time.Now(),
		}
		if ts, err := time.Parse(time.RFC3339, tpv.Time); err == nil {
			fix.Timestamp = ts
		}
		fn(fix)
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
