// Package mock provides a scriptable geocode.ReverseGeocoder for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/geocode"
)

// Geocoder implements geocode.ReverseGeocoder with a fixed answer.
type Geocoder struct {
	mu     sync.Mutex
	calls  []Call
	Result string
	Err    error
}

// Call records one ReverseGeocode invocation.
type Call struct {
	Lat, Lon float64
}

var _ geocode.ReverseGeocoder = (*Geocoder)(nil)

// New returns a mock Geocoder answering with result.
func New(result string) *Geocoder {
	return &Geocoder{Result: result}
}

// ReverseGeocode records the call and returns the scripted result.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Lat: lat, Lon: lon})
	return g.Result, g.Err
}

// Calls returns every invocation so far.
func (g *Geocoder) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}
