// Package health aggregates liveness of the engine's subsystems, currently
// storage and the deadline sweeper, for the health and readiness endpoints.
package health

import (
	"context"
	"sync"
)

// Status is the reported health of one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Check probes one subsystem. The detail string is informational either way
// ("postgres", "in-memory", an error message).
type Check func(ctx context.Context) (ok bool, detail string)

// Registry holds named checks and runs them on demand. Registration happens
// during wiring; CheckAll is called per request.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds a check under a subsystem name. Registering the same name
// twice replaces the earlier check.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll probes every subsystem in registration order. The aggregate is
// healthy only when every subsystem is.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Check, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(names))
	for _, name := range names {
		ok, detail := checks[name](ctx)
		if !ok {
			healthy = false
		}
		statuses = append(statuses, Status{Name: name, Healthy: ok, Detail: detail})
	}
	return healthy, statuses
}
