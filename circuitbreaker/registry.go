package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry lazily creates and holds breakers by name so the gateway can
// multiplex one breaker per upstream/model from a single code path.
type Registry struct {
	defaultConfig Config
	logger        *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that builds new breakers with defaultConfig.
func NewRegistry(defaultConfig Config, logger *zap.Logger) *Registry {
	return &Registry{
		defaultConfig: defaultConfig.withDefaults(),
		logger:        logger,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the named breaker, creating it with the registry's default
// config on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaultConfig, r.logger)
		r.breakers[name] = b
	}
	return b
}

// AllStats returns a snapshot of every breaker the registry has created, in
// a deterministic name order for stable admin output.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll forces every known breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
