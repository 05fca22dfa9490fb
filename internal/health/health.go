// Package health implements the engine's liveness and readiness endpoints.
//
// /healthz reports process liveness and always succeeds; /readyz runs every
// registered probe and answers 503 when any dependency is down. Bodies are
// JSON objects with a top-level "status" ("ok" or "fail") and a "checks" map
// with one entry per probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds each readiness probe individually, so one hung
// dependency cannot stall the whole /readyz response indefinitely.
const probeTimeout = 5 * time.Second

// Checker probes a single dependency. Check returns nil when the
// dependency is healthy.
type Checker struct {
	// Name labels the probe in the JSON response, e.g. "store".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is anything with a Ping method, such as the persistence store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store returns a Checker that reports whether the persistence store is
// reachable.
func Store(p Pinger) Checker {
	return Checker{Name: "store", Check: p.Ping}
}

// result is the JSON body served by both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The probe list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that runs the given probes on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all probes concurrently and answers 200 only when every one
// passes. Each probe gets its own probeTimeout derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
