// Package scheduler turns sync requests into per-agent transfer plans and
// tracks request progress as agents report chunk results.
package scheduler

import (
	"sync"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/pkg/model"
)

// Policy maps a sync request and the agent pools to a transfer plan. A
// policy holds no mutable state: given the same request and pools over the
// same file tree it produces the same plan.
type Policy interface {
	Name() string
	Plan(req model.SyncRequest, sources, destinations []model.AgentEndpoint) (model.TransferPlan, error)
}

// Registry resolves policies by name. It is populated once at process
// start; requesting an unregistered name fails, never silently
// substituting a default.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry creates a registry holding the given policies.
func NewRegistry(policies ...Policy) *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in policies.
func DefaultRegistry() *Registry {
	return NewRegistry(NewRoundRobin())
}

// Register adds or replaces a policy under its name.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name()] = p
}

// Lookup resolves name to a policy.
func (r *Registry) Lookup(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, faults.Configf("unknown scheduling policy %q", name)
	}
	return p, nil
}
