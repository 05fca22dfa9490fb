// Package mock provides a recording notify.Notifier for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/notify"
)

// Notifier implements notify.Notifier, recording every alert.
type Notifier struct {
	mu       sync.Mutex
	alerts   []notify.Alert
	AlertErr error
}

var _ notify.Notifier = (*Notifier)(nil)

// New returns an empty mock Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Alert records a.
func (n *Notifier) Alert(ctx context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.AlertErr
}

// Alerts returns every recorded alert in order.
func (n *Notifier) Alerts() []notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Alert(nil), n.alerts...)
}
