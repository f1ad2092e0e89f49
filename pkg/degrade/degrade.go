package degrade

import (
	"context"
	"sync"
	"time"
)

// Registry tracks dependencies that have been marked unhealthy for a
// bounded TTL. Feature-gated code paths consult it before calling out.
type Registry struct {
	mu        sync.RWMutex
	unhealthy map[string]time.Time // dependency -> unhealthy until
	now       func() time.Time
}

// NewRegistry creates an empty degradation registry.
func NewRegistry() *Registry {
	return &Registry{
		unhealthy: make(map[string]time.Time),
		now:       time.Now,
	}
}

// MarkUnhealthy flags a dependency as unhealthy until the TTL expires.
func (r *Registry) MarkUnhealthy(dep string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthy[dep] = r.now().Add(ttl)
}

// MarkHealthy clears a dependency's unhealthy flag immediately.
func (r *Registry) MarkHealthy(dep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unhealthy, dep)
}

// Healthy reports whether the dependency is currently considered healthy.
// Expired flags are treated as healthy and lazily removed.
func (r *Registry) Healthy(dep string) bool {
	r.mu.RLock()
	until, flagged := r.unhealthy[dep]
	r.mu.RUnlock()

	if !flagged {
		return true
	}
	if r.now().Before(until) {
		return false
	}

	r.mu.Lock()
	delete(r.unhealthy, dep)
	r.mu.Unlock()
	return true
}

// Guard wraps calls to one dependency with cached-fallback behaviour.
// While the dependency is degraded the last good value (or the static
// fallback) is served instead of calling out; fresh successes refresh
// the cache opportunistically.
type Guard struct {
	reg    *Registry
	dep    string
	ttl    time.Duration
	static interface{}

	mu     sync.RWMutex
	cached interface{}
	filled bool
}

// NewGuard creates a guard for the named dependency. static is returned
// when the dependency is degraded and no cached value exists yet.
func NewGuard(reg *Registry, dep string, ttl time.Duration, static interface{}) *Guard {
	return &Guard{reg: reg, dep: dep, ttl: ttl, static: static}
}

// Get returns a fresh value when the dependency is healthy, marking it
// unhealthy and falling back on failure. The second return reports
// whether the value came from the fallback path.
func (g *Guard) Get(ctx context.Context, fresh func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	if !g.reg.Healthy(g.dep) {
		return g.fallback(), true, nil
	}

	v, err := fresh(ctx)
	if err != nil {
		g.reg.MarkUnhealthy(g.dep, g.ttl)
		return g.fallback(), true, err
	}

	g.mu.Lock()
	g.cached = v
	g.filled = true
	g.mu.Unlock()
	return v, false, nil
}

func (g *Guard) fallback() interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.filled {
		return g.cached
	}
	return g.static
}
