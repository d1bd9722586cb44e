package capital

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// AllocatorConfig holds the allocation policy knobs.
type AllocatorConfig struct {
	ProbationDecayRate      float64
	ProbationPeriods        int
	ArbitrageMinPerStrategy decimal.Decimal
	ArbitrageMinPoolTotal   decimal.Decimal
	AggressiveMaxMultiplier float64
}

// DefaultAllocatorConfig returns the standard policy.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		ProbationDecayRate:      0.5,
		ProbationPeriods:        2,
		ArbitrageMinPerStrategy: decimal.NewFromInt(50),
		ArbitrageMinPoolTotal:   decimal.NewFromInt(100),
		AggressiveMaxMultiplier: 1.5,
	}
}

// Allocator is the only path by which a strategy acquires pool capital.
// Allocation swaps are one transaction against the pool: release first,
// then allocate, so capital is never counted twice.
type Allocator struct {
	mu          sync.Mutex
	registry    *domain.StrategyRegistry
	directional *Pool
	arbitrage   *Pool
	accounts    *AccountManager
	cfg         AllocatorConfig
	journal     *events.Log
	log         zerolog.Logger
}

// NewAllocator wires the allocator to its pools, accounts and journal.
func NewAllocator(registry *domain.StrategyRegistry, directional, arbitrage *Pool, accounts *AccountManager, cfg AllocatorConfig, journal *events.Log, log zerolog.Logger) *Allocator {
	if cfg.ProbationDecayRate == 0 && cfg.ProbationPeriods == 0 {
		cfg = DefaultAllocatorConfig()
	}
	return &Allocator{
		registry:    registry,
		directional: directional,
		arbitrage:   arbitrage,
		accounts:    accounts,
		cfg:         cfg,
		journal:     journal,
		log:         log.With().Str("component", "capital_allocator").Logger(),
	}
}

// Accounts exposes the account manager for read paths.
func (a *Allocator) Accounts() *AccountManager { return a.accounts }

// PoolFor returns the pool backing the given kind.
func (a *Allocator) PoolFor(kind domain.PoolKind) *Pool {
	if kind == domain.PoolArbitrage {
		return a.arbitrage
	}
	return a.directional
}

// AllocateToStrategy runs the allocation policy and returns the granted
// amount. Zero means denied, decayed to nothing, or pool exhaustion; the
// operation never errors.
func (a *Allocator) AllocateToStrategy(strategyID string, requested decimal.Decimal, regime *domain.RegimeVerdict) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	strategy, ok := a.registry.Get(strategyID)
	if !ok {
		a.log.Warn().Str("strategy", strategyID).Msg("Allocation request for unknown strategy")
		return decimal.Zero
	}

	account := a.accounts.Create(strategyID, strategy.Type.PoolKind())
	pool := a.PoolFor(account.PoolKind)

	switch account.State {
	case domain.StateDisabled, domain.StatePaused:
		a.zeroOutLocked(account, pool, "lifecycle state "+string(account.State))
		return decimal.Zero
	case domain.StateProbation:
		return a.decayLocked(account, pool)
	}

	if account.PoolKind == domain.PoolArbitrage {
		return a.allocateArbitrageLocked(account, pool, requested)
	}

	if strategy.RiskProfile == domain.ProfileAggressive && regime != nil {
		scaled, ok := a.scaleByRegimeLocked(account, pool, requested, *regime)
		if !ok {
			return decimal.Zero
		}
		requested = scaled
	}

	return a.swapLocked(account, pool, requested, "allocation")
}

// ReleaseAll returns a strategy's full allocation to its pool.
func (a *Allocator) ReleaseAll(strategyID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	account, ok := a.accounts.Get(strategyID)
	if !ok {
		return
	}
	a.zeroOutLocked(account, a.PoolFor(account.PoolKind), reason)
}

// SetState transitions a strategy's lifecycle state and journals the change.
// The allocation consequences land on the strategy's next allocation pass.
func (a *Allocator) SetState(strategyID string, state domain.LifecycleState, reason string) bool {
	account, ok := a.accounts.Get(strategyID)
	if !ok {
		// State can be assigned before any capital was requested.
		strategy, known := a.registry.Get(strategyID)
		if !known {
			return false
		}
		account = a.accounts.Create(strategyID, strategy.Type.PoolKind())
	}

	prev := account.State
	updated, ok := a.accounts.UpdateState(strategyID, state)
	if !ok {
		return false
	}

	a.journal.EmitFor(events.StrategyStateChange, strategyID, strategyID, reason, map[string]interface{}{
		"from": string(prev),
		"to":   string(updated.State),
	})
	return true
}

// ApplyTradePnL books realized P&L onto the strategy's pool. Equity moves
// are not journaled per trade; the daily snapshot captures pool state.
func (a *Allocator) ApplyTradePnL(strategyID string, pnl decimal.Decimal) {
	account, ok := a.accounts.Get(strategyID)
	if !ok {
		a.log.Warn().Str("strategy", strategyID).Msg("P&L for strategy without account")
		return
	}

	pool := a.PoolFor(account.PoolKind)
	pool.UpdateEquity(pnl)
	m := pool.Metrics()

	a.log.Debug().
		Str("strategy", strategyID).
		Str("pool", m.Kind).
		Float64("pnl", pnl.InexactFloat64()).
		Float64("poolTotal", m.Total.InexactFloat64()).
		Float64("drawdownPct", m.CurrentDrawdownPct).
		Msg("Realized P&L applied")
}

func (a *Allocator) zeroOutLocked(account Account, pool *Pool, reason string) {
	if account.Allocated.GreaterThan(decimal.Zero) {
		pool.Release(account.Allocated)
	}
	a.accounts.UpdateAllocation(account.StrategyID, decimal.Zero)
	a.journalAllocation(account.StrategyID, pool, decimal.Zero, reason)
}

// decayLocked applies one probation decay step. After the configured number
// of periods the allocation is forced to exactly zero.
func (a *Allocator) decayLocked(account Account, pool *Pool) decimal.Decimal {
	if account.DecayPeriods >= a.cfg.ProbationPeriods {
		a.zeroOutLocked(account, pool, "probation decay exhausted")
		return decimal.Zero
	}

	factor := decimal.NewFromFloat(1 - a.cfg.ProbationDecayRate)
	next := account.Allocated.Mul(factor)
	if next.LessThan(decimal.Zero) {
		next = decimal.Zero
	}

	released := account.Allocated.Sub(next)
	if released.GreaterThan(decimal.Zero) {
		pool.Release(released)
	}

	a.accounts.MarkDecay(account.StrategyID)
	a.accounts.UpdateAllocation(account.StrategyID, next)
	a.journalAllocation(account.StrategyID, pool, next, "probation decay")
	return next
}

func (a *Allocator) allocateArbitrageLocked(account Account, pool *Pool, requested decimal.Decimal) decimal.Decimal {
	if requested.LessThan(a.cfg.ArbitrageMinPerStrategy) {
		requested = a.cfg.ArbitrageMinPerStrategy
	}

	if pool.Metrics().Total.LessThan(a.cfg.ArbitrageMinPoolTotal) {
		a.log.Warn().
			Str("pool_total", pool.Metrics().Total.String()).
			Str("floor", a.cfg.ArbitrageMinPoolTotal.String()).
			Msg("Arbitrage pool below its minimum floor")
	}

	return a.swapLocked(account, pool, requested, "arbitrage allocation")
}

// scaleByRegimeLocked applies the aggressive-profile confidence bands.
// Returns ok=false when the regime zeroes the strategy out entirely.
func (a *Allocator) scaleByRegimeLocked(account Account, pool *Pool, requested decimal.Decimal, regime domain.RegimeVerdict) (decimal.Decimal, bool) {
	if regime.Regime == domain.RegimeUnknown {
		a.zeroOutLocked(account, pool, "regime unknown")
		return decimal.Zero, false
	}

	c := regime.Confidence
	switch {
	case c < 0.4:
		a.zeroOutLocked(account, pool, "regime confidence below floor")
		return decimal.Zero, false
	case c < 0.6:
		return requested.Mul(decimal.NewFromFloat(0.5)), true
	case c < 0.8:
		return requested, true
	default:
		return requested.Mul(decimal.NewFromFloat(a.cfg.AggressiveMaxMultiplier)), true
	}
}

// swapLocked exchanges the account's prior allocation for the requested
// amount in one pool transaction. On pool exhaustion the prior allocation
// stands and zero is returned.
func (a *Allocator) swapLocked(account Account, pool *Pool, requested decimal.Decimal, reason string) decimal.Decimal {
	granted, ok := pool.Rebalance(account.Allocated, requested)
	if !ok {
		a.log.Debug().
			Str("strategy", account.StrategyID).
			Str("requested", requested.String()).
			Msg("Pool cannot cover allocation request")
		return decimal.Zero
	}

	a.accounts.UpdateAllocation(account.StrategyID, granted)
	a.journalAllocation(account.StrategyID, pool, granted, reason)
	return granted
}

func (a *Allocator) journalAllocation(strategyID string, pool *Pool, allocated decimal.Decimal, reason string) {
	m := pool.Metrics()
	a.journal.EmitFor(events.CapitalUpdate, strategyID, strategyID, reason, map[string]interface{}{
		"pool":          m.Kind,
		"allocated":     allocated.InexactFloat64(),
		"poolAllocated": m.Allocated.InexactFloat64(),
		"poolAvailable": m.Available.InexactFloat64(),
		"drawdownPct":   m.CurrentDrawdownPct,
	})
}
