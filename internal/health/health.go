// Package health provides a registry of named subsystem health checks
// backing the readiness endpoint.
package health

import (
	"context"
	"sync"
)

// Status is the result of checking one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// CheckFunc probes a single subsystem.
type CheckFunc func(ctx context.Context) Status

// Registry runs named subsystem checks on demand.
type Registry struct {
	mu     sync.RWMutex
	checks []check
}

type check struct {
	name string
	fn   CheckFunc
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named check. Checks run in registration order.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	r.checks = append(r.checks, check{name: name, fn: fn})
	r.mu.Unlock()
}

// CheckAll runs every registered check and reports aggregate health.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := make([]check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(checks))
	for i, c := range checks {
		statuses[i] = c.fn(ctx)
		statuses[i].Name = c.name
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// StaticCheck returns a check that always reports the given state. Used
// for subsystems that are healthy by construction, like in-memory stores.
func StaticCheck(healthy bool, detail string) CheckFunc {
	return func(ctx context.Context) Status {
		return Status{Healthy: healthy, Detail: detail}
	}
}
