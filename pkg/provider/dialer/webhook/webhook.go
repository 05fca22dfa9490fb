// Package webhook implements dialer.Dialer by POSTing dial requests to a
// companion bridge endpoint (typically the paired phone's helper app).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kavach-app/kavach/pkg/provider/dialer"
)

const defaultTimeout = 10 * time.Second

// Option is a functional option for configuring the Dialer.
type Option func(*Dialer)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) {
		d.client = c
	}
}

// WithAuthToken sets a bearer token sent on every request.
func WithAuthToken(token string) Option {
	return func(d *Dialer) {
		d.token = token
	}
}

// Dialer implements dialer.Dialer over HTTP.
type Dialer struct {
	url    string
	token  string
	client *http.Client
}

var _ dialer.Dialer = (*Dialer)(nil)

// New returns a webhook Dialer posting to url.
func New(url string, opts ...Option) (*Dialer, error) {
	if url == "" {
		return nil, errors.New("webhook: url must not be empty")
	}
	d := &Dialer{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dial POSTs {"number": ...} to the bridge. Any non-2xx response is a
// dialer.ErrDialFailed.
func (d *Dialer) Dial(ctx context.Context, number string) error {
	body, err := json.Marshal(map[string]string{"number": number})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %v: %w", err, dialer.ErrDialFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: status %d: %w", resp.StatusCode, dialer.ErrDialFailed)
	}
	return nil
}
