// Package position defines the position-source provider contract: a push
// model where the source invokes a callback for every fix it obtains.
package position

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied indicates the platform refused access to location.
	ErrPermissionDenied = errors.New("position: permission denied")
	// ErrUnsupported indicates no position source is available on this host.
	ErrUnsupported = errors.New("position: not supported")
)

// Fix is a single position observation.
type Fix struct {
	Latitude  float64
	Longitude float64
	AccuracyM float64 // horizontal accuracy estimate, 0 when unknown
	Timestamp time.Time
}

// Watch is a handle on an active position subscription.
type Watch interface {
	// Stop cancels the subscription. Stop is idempotent.
	Stop()
}

// Source delivers position fixes. Implementations must invoke fn from a
// single goroutine, in fix order.
type Source interface {
	// Watch starts delivering fixes to fn until the context is cancelled or
	// Stop is called on the returned Watch.
	Watch(ctx context.Context, fn func(Fix)) (Watch, error)
}
