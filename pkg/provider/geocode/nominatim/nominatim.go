// Package nominatim implements geocode.ReverseGeocoder against the OSM
// Nominatim reverse endpoint.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kavach-app/kavach/pkg/provider/geocode"
)

const (
	defaultEndpoint = "https://nominatim.openstreetmap.org/reverse"
	defaultTimeout  = 10 * time.Second
	// Nominatim's usage policy requires an identifying User-Agent.
	userAgent = "kavach-safety-engine/1.0"
)

// Option is a functional option for configuring the Geocoder.
type Option func(*Geocoder)

// WithEndpoint overrides the reverse endpoint, e.g. for a self-hosted
// Nominatim instance.
func WithEndpoint(endpoint string) Option {
	return func(g *Geocoder) {
		g.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Geocoder) {
		g.client = c
	}
}

// Geocoder implements geocode.ReverseGeocoder via Nominatim.
type Geocoder struct {
	endpoint string
	client   *http.Client
}

var _ geocode.ReverseGeocoder = (*Geocoder)(nil)

// New returns a Geocoder configured with the supplied options.
func New(opts ...Option) *Geocoder {
	g := &Geocoder{
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// ReverseGeocode resolves lat/lon to the display_name Nominatim returns.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("nominatim: request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("nominatim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("nominatim: decode: %w", err)
	}
	if body.DisplayName == "" {
		return "", fmt.Errorf("nominatim: no result for %f,%f", lat, lon)
	}
	return body.DisplayName, nil
}
