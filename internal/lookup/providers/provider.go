package providers

import (
	"context"
	"fmt"
	"sync"

	"verigate/internal/lookup/models"
)

// Protocol is the transport a provider speaks.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
)

// Capabilities describes what a provider serves.
type Capabilities struct {
	Protocol Protocol
	Types    []models.LookupType
	Version  string
	// Deferred providers may answer out of band.
	Deferred bool
}

// Provider is the interface every verification source implements.
type Provider interface {
	ID() string
	Capabilities() Capabilities
	Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error)
}

// Registry routes a ProviderCall to the provider serving its lookup type.
// It satisfies ports.Executor.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Provider
	byType map[models.LookupType]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Provider),
		byType: make(map[models.LookupType]Provider),
	}
}

// Register adds p for every lookup type it declares. A type may only be
// served by one provider.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	caps := p.Capabilities()
	for _, t := range caps.Types {
		if existing, ok := r.byType[t]; ok {
			return fmt.Errorf("%w: %s already serves %s", ErrDuplicateProvider, existing.ID(), t)
		}
	}
	r.byID[id] = p
	for _, t := range caps.Types {
		r.byType[t] = p
	}
	return nil
}

// ForType returns the provider serving t.
func (r *Registry) ForType(t models.LookupType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byType[t]
	return p, ok
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
	p, ok := r.ForType(call.LookupType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, call.LookupType)
	}
	return p.Execute(ctx, call)
}
