package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

// Provider provisions and tears down resources of the kinds it understands.
// creds carries secret values resolved for the descriptor; implementations
// must not log or persist them.
type Provider interface {
	Name() string
	Apply(ctx context.Context, d *ir.Descriptor, creds map[string]string) error
	Destroy(ctx context.Context, d *ir.Descriptor) error
}

// Factory constructs a provider on first use.
type Factory func() (Provider, error)

// Registry manages the lifecycle of providers. Providers are constructed
// lazily so a plan that only touches one provider never pays for the rest.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory makes a provider available under name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get returns the provider with the given name, constructing it on first use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.providers[name]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// BindActions wires every descriptor's apply and destroy actions to its
// provider. Called once after config load, before the plan is built.
func BindActions(resources []*ir.Descriptor, r *Registry) error {
	for _, d := range resources {
		if d.Provider == "" {
			return fmt.Errorf("resource %s has no provider", d.ID)
		}
		if !r.Has(d.Provider) {
			return fmt.Errorf("resource %s uses unknown provider %q", d.ID, d.Provider)
		}

		d.Apply = func(ctx context.Context, d *ir.Descriptor, creds map[string]string) error {
			p, err := r.Get(d.Provider)
			if err != nil {
				return err
			}
			return p.Apply(ctx, d, creds)
		}
		d.Destroy = func(ctx context.Context, d *ir.Descriptor, _ map[string]string) error {
			p, err := r.Get(d.Provider)
			if err != nil {
				return err
			}
			return p.Destroy(ctx, d)
		}
	}
	return nil
}
