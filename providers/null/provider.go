package null

import (
	"context"
	"sync"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// Provider is a no-op provider that records every invocation. Useful for
// dry runs against real plans and as a test double.
type Provider struct {
	mu      sync.Mutex
	applied []string
	removed []string

	// FailOn makes Apply fail for the named resource ids.
	FailOn map[string]error
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "null" }

func (p *Provider) Apply(_ context.Context, d *ir.Descriptor, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.FailOn[d.ID]; ok {
		return err
	}
	p.applied = append(p.applied, d.ID)
	logging.Debug("null provider apply", "resource", d.ID, "kind", d.Kind)
	return nil
}

func (p *Provider) Destroy(_ context.Context, d *ir.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, d.ID)
	logging.Debug("null provider destroy", "resource", d.ID, "kind", d.Kind)
	return nil
}

// Applied returns the ids applied so far, in order.
func (p *Provider) Applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

// Removed returns the ids destroyed so far, in order.
func (p *Provider) Removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}
