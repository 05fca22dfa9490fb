package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kavach-app/kavach/pkg/provider/dialer"
	"github.com/kavach-app/kavach/pkg/provider/geocode"
	"github.com/kavach-app/kavach/pkg/provider/position"
	"github.com/kavach-app/kavach/pkg/provider/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	speech   map[string]func(ProviderEntry) (speech.Provider, error)
	position map[string]func(ProviderEntry) (position.Source, error)
	dialer   map[string]func(ProviderEntry) (dialer.Dialer, error)
	geocoder map[string]func(ProviderEntry) (geocode.ReverseGeocoder, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		speech:   make(map[string]func(ProviderEntry) (speech.Provider, error)),
		position: make(map[string]func(ProviderEntry) (position.Source, error)),
		dialer:   make(map[string]func(ProviderEntry) (dialer.Dialer, error)),
		geocoder: make(map[string]func(ProviderEntry) (geocode.ReverseGeocoder, error)),
	}
}

// RegisterSpeech registers a speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterPosition registers a position source factory under name.
func (r *Registry) RegisterPosition(name string, factory func(ProviderEntry) (position.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position[name] = factory
}

// RegisterDialer registers a dialer factory under name.
func (r *Registry) RegisterDialer(name string, factory func(ProviderEntry) (dialer.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialer[name] = factory
}

// RegisterGeocoder registers a reverse geocoder factory under name.
func (r *Registry) RegisterGeocoder(name string, factory func(ProviderEntry) (geocode.ReverseGeocoder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geocoder[name] = factory
}

// CreateSpeech instantiates a speech provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePosition instantiates a position source using the factory registered under entry.Name.
func (r *Registry) CreatePosition(entry ProviderEntry) (position.Source, error) {
	r.mu.RLock()
	factory, ok := r.position[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: position/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDialer instantiates a dialer using the factory registered under entry.Name.
func (r *Registry) CreateDialer(entry ProviderEntry) (dialer.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.dialer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dialer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGeocoder instantiates a reverse geocoder using the factory registered under entry.Name.
func (r *Registry) CreateGeocoder(entry ProviderEntry) (geocode.ReverseGeocoder, error) {
	r.mu.RLock()
	factory, ok := r.geocoder[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: geocoder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
