// Package dialer defines the call-placement provider contract. Dialing is
// fire-and-forget: the provider hands the number to whatever can actually
// place a call (a companion-device bridge, a SIP gateway) and reports only
// whether the hand-off succeeded, never call progress.
package dialer

import (
	"context"
	"errors"
)

// ErrDialFailed indicates the hand-off to the call path failed. The caller
// must surface the number so a human can dial it manually.
var ErrDialFailed = errors.New("dialer: dial failed")

// Dialer places calls.
type Dialer interface {
	// Dial hands off number (E.164 or best-effort normalized) for calling.
	Dial(ctx context.Context, number string) error
}
