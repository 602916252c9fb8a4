package circuitbreaker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry keeps one breaker per dependency name. Breakers are created
// lazily and shared process-wide; each has its own lock, so an open
// breaker for one dependency never blocks calls to another.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	logger   *zap.Logger
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, r.cfg)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the breaker registered for name. When the
// breaker is open the call is short-circuited with ErrCircuitOpen and
// the underlying dependency is never contacted.
func (r *Registry) Execute(ctx context.Context, name string, fn func() error) error {
	return r.Get(name).Execute(ctx, fn)
}

// States reports the current state of every registered breaker,
// keyed by dependency name.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State().String()
	}
	return states
}
