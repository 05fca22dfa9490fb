// Package mock provides a recording dialer.Dialer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/dialer"
)

// Dialer implements dialer.Dialer, recording every number dialed.
type Dialer struct {
	mu      sync.Mutex
	calls   []string
	DialErr error
	// DialErrs holds per-call errors, consumed before DialErr.
	DialErrs []error
}

var _ dialer.Dialer = (*Dialer)(nil)

// New returns an empty mock Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial records number and returns the next scripted error.
func (d *Dialer) Dial(ctx context.Context, number string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, number)
	if len(d.DialErrs) > 0 {
		err := d.DialErrs[0]
		d.DialErrs = d.DialErrs[1:]
		return err
	}
	return d.DialErr
}

// Calls returns every dialed number in order.
func (d *Dialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}
