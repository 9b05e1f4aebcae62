package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

// Registry owns one breaker per upstream name. Breakers are created on first
// use and live for the life of the process.
type Registry struct {
	cfg      Config
	now      func() time.Time
	onChange []StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

type Option func(*Registry)

// WithClock overrides the time source of every breaker in the registry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStateChangeHook registers fn for transitions of every breaker.
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(r *Registry) { r.onChange = append(r.onChange, fn) }
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Config() Config {
	return r.cfg
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = newBreaker(name, r.cfg, r.now, r.onChange)
		r.breakers[name] = cb
	}
	return cb
}

// Lookup returns the breaker for name without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	return cb, ok
}

// Snapshots returns every breaker's view, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker. It reports false when no such breaker
// exists yet.
func (r *Registry) Reset(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}
