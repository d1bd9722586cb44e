package domain

import "sync"

// PoolKind identifies which capital pool a strategy draws from
type PoolKind string

const (
	PoolDirectional PoolKind = "directional"
	PoolArbitrage   PoolKind = "arbitrage"
)

// StrategyType classifies what a strategy does; the allocator maps it to a
// pool kind.
type StrategyType string

const (
	StrategyTrend             StrategyType = "trend"
	StrategyMeanReversion     StrategyType = "mean_reversion"
	StrategySpotPerpArb       StrategyType = "spot_perp_arbitrage"
	StrategyCrossExchangeArb  StrategyType = "cross_exchange_arbitrage"
	StrategyTriangularArb     StrategyType = "triangular_arbitrage"
)

// IsArbitrage reports whether the type draws from the arbitrage pool.
func (t StrategyType) IsArbitrage() bool {
	switch t {
	case StrategySpotPerpArb, StrategyCrossExchangeArb, StrategyTriangularArb:
		return true
	}
	return false
}

// PoolKind maps the strategy type onto its capital pool.
func (t StrategyType) PoolKind() PoolKind {
	if t.IsArbitrage() {
		return PoolArbitrage
	}
	return PoolDirectional
}

// RiskProfile scales how capital allocation reacts to regime confidence
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileBalanced     RiskProfile = "balanced"
	ProfileAggressive   RiskProfile = "aggressive"
)

// LifecycleState is the per-strategy account state driven by external policy
type LifecycleState string

const (
	StateDisabled  LifecycleState = "disabled"
	StatePaused    LifecycleState = "paused"
	StateProbation LifecycleState = "probation"
	StateActive    LifecycleState = "active"
)

// Strategy is the metadata the pipeline needs about a signal producer. The
// signal algorithms themselves live outside this system.
type Strategy struct {
	ID              string       `json:"id"`
	Type            StrategyType `json:"type"`
	RiskProfile     RiskProfile  `json:"riskProfile"`
	RegimeDependent bool         `json:"regimeDependent"`
	Symbols         []string     `json:"symbols,omitempty"`
}

// StrategyRegistry is the read-mostly lookup of known strategies.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry builds an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces a strategy definition.
func (r *StrategyRegistry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID] = s
}

// Get looks a strategy up by id.
func (r *StrategyRegistry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// All returns a copy of every registered strategy.
func (r *StrategyRegistry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}
