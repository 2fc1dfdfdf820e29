package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/riptide-quant/riptide/internal/config"
)

// Registry manages a named collection of strategies that can be looked
// up at runtime. It is safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry under its own name. If a
// strategy with the same name already exists it will be replaced.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. It returns an error when the name
// is not registered.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select resolves the given names into strategies, in name order, so
// callers evaluate them deterministically.
func (r *Registry) Select(names []string) ([]Strategy, error) {
	ordered := make([]string, len(names))
	copy(ordered, names)
	sort.Strings(ordered)

	out := make([]Strategy, 0, len(ordered))
	for _, n := range ordered {
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// FromConfig builds a registry holding every enabled strategy. The
// features config supplies the EMA periods ma_cross re-derives its
// prior-bar averages with.
func FromConfig(cfg config.StrategyConfig, feat config.FeaturesConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if cfg.OrderBlock.Enabled {
		r.Register(NewOrderBlock(cfg.OrderBlock, logger))
	}
	if cfg.VWAPReversion.Enabled {
		r.Register(NewVWAPReversion(cfg.VWAPReversion, logger))
	}
	if cfg.MACross.Enabled {
		r.Register(NewMACross(cfg.MACross, feat.EMAFast, feat.EMASlow, logger))
	}
	return r
}
