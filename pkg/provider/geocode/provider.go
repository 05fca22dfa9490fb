// Package geocode defines the reverse-geocoding provider contract, used to
// label geofence anchors and breach notifications with a human-readable
// address.
package geocode

import "context"

// ReverseGeocoder resolves coordinates to an address string. A failed lookup
// is never fatal to callers; they fall back to raw coordinates.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}
