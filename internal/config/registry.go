package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// ErrBackendNotRegistered is returned by the Create* methods when no factory
// has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	input     map[InputBackend]func(InputConfig) (audio.InputOpener, error)
	output    map[OutputBackend]func(OutputConfig) (audio.OutputOpener, error)
	transport map[string]func(LiveConfig) (transport.Dialer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		input:     make(map[InputBackend]func(InputConfig) (audio.InputOpener, error)),
		output:    make(map[OutputBackend]func(OutputConfig) (audio.OutputOpener, error)),
		transport: make(map[string]func(LiveConfig) (transport.Dialer, error)),
	}
}

// RegisterInput registers a microphone factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInput(name InputBackend, factory func(InputConfig) (audio.InputOpener, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers a speaker factory under name.
func (r *Registry) RegisterOutput(name OutputBackend, factory func(OutputConfig) (audio.OutputOpener, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// RegisterTransport registers a remote channel factory under name.
func (r *Registry) RegisterTransport(name string, factory func(LiveConfig) (transport.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport[name] = factory
}

// CreateInput builds the opener registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateInput(cfg InputConfig) (audio.InputOpener, error) {
	r.mu.RLock()
	factory, ok := r.input[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateOutput builds the opener registered under cfg.Backend.
func (r *Registry) CreateOutput(cfg OutputConfig) (audio.OutputOpener, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateTransport builds the dialer registered under cfg.Name.
func (r *Registry) CreateTransport(cfg LiveConfig) (transport.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.transport[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrBackendNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
