// Package capital implements isolated capital accounting: the two pools,
// per-strategy accounts, the allocator that is the only path onto pool
// capital, and the integrity checker guarding the books.
package capital

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PoolMetrics is a read-only snapshot of one pool's books.
type PoolMetrics struct {
	Kind               string          `json:"kind"`
	Total              decimal.Decimal `json:"total"`
	Allocated          decimal.Decimal `json:"allocated"`
	Available          decimal.Decimal `json:"available"`
	Peak               decimal.Decimal `json:"peak"`
	CurrentDrawdownPct float64         `json:"currentDrawdownPct"`
	MaxDrawdownPct     float64         `json:"maxDrawdownPct"`
}

// Pool is one isolated bag of capital. Available is always total minus
// allocated; peak never decreases. All operations are total: they clamp
// rather than fail.
type Pool struct {
	mu             sync.Mutex
	kind           string
	total          decimal.Decimal
	allocated      decimal.Decimal
	peak           decimal.Decimal
	maxDrawdownPct float64
	log            zerolog.Logger
}

// NewPool creates a pool with its initial equity as the starting peak.
func NewPool(kind string, initialEquity decimal.Decimal, maxDrawdownPct float64, log zerolog.Logger) *Pool {
	return &Pool{
		kind:           kind,
		total:          initialEquity,
		peak:           initialEquity,
		maxDrawdownPct: maxDrawdownPct,
		log:            log.With().Str("component", "capital_pool").Str("pool", kind).Logger(),
	}
}

// Allocate grants min(amount, available), or zero while the pool sits at or
// beyond its drawdown ceiling.
func (p *Pool) Allocate(amount decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.LessThanOrEqual(decimal.Zero) || p.drawdownLockedLocked() {
		return decimal.Zero
	}

	granted := decimal.Min(amount, p.availableLocked())
	if granted.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	p.allocated = p.allocated.Add(granted)
	return granted
}

// Release returns min(amount, allocated) to the available side.
func (p *Pool) Release(amount decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(amount)
}

func (p *Pool) releaseLocked(amount decimal.Decimal) decimal.Decimal {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	released := decimal.Min(amount, p.allocated)
	p.allocated = p.allocated.Sub(released)
	return released
}

// UpdateEquity applies realized P&L to the pool total and refreshes the
// peak. A loss deep enough to undercut outstanding allocations clamps the
// allocated side so available never goes negative.
func (p *Pool) UpdateEquity(pnl decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = p.total.Add(pnl)
	if p.total.LessThan(decimal.Zero) {
		p.total = decimal.Zero
	}
	if p.total.GreaterThan(p.peak) {
		p.peak = p.total
	}
	if p.allocated.GreaterThan(p.total) {
		p.log.Warn().
			Str("allocated", p.allocated.String()).
			Str("total", p.total.String()).
			Msg("Loss undercut outstanding allocations, clamping")
		p.allocated = p.total
	}
}

// CanAllocate reports whether the pool could grant the full amount now.
func (p *Pool) CanAllocate(amount decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canAllocateLocked(amount)
}

func (p *Pool) canAllocateLocked(amount decimal.Decimal) bool {
	if p.drawdownLockedLocked() {
		return false
	}
	return p.availableLocked().GreaterThanOrEqual(amount)
}

// Rebalance atomically swaps a strategy's prior allocation for a new one.
// The release happens first so the new request is judged against the freed
// books; when the pool still cannot grant the full amount, the prior
// allocation is restored untouched and zero is returned.
func (p *Pool) Rebalance(release, request decimal.Decimal) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := p.releaseLocked(release)

	if request.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, true
	}

	if !p.canAllocateLocked(request) {
		p.allocated = p.allocated.Add(released)
		return decimal.Zero, false
	}

	p.allocated = p.allocated.Add(request)
	return request, true
}

// Metrics returns a consistent snapshot of the books.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolMetrics{
		Kind:               p.kind,
		Total:              p.total,
		Allocated:          p.allocated,
		Available:          p.availableLocked(),
		Peak:               p.peak,
		CurrentDrawdownPct: p.drawdownPctLocked(),
		MaxDrawdownPct:     p.maxDrawdownPct,
	}
}

// Kind returns the pool's identity string.
func (p *Pool) Kind() string { return p.kind }

func (p *Pool) availableLocked() decimal.Decimal {
	return p.total.Sub(p.allocated)
}

func (p *Pool) drawdownPctLocked() float64 {
	if p.peak.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	dd := p.peak.Sub(p.total).Div(p.peak).Mul(decimal.NewFromInt(100))
	f, _ := dd.Float64()
	if f < 0 {
		return 0
	}
	return f
}

func (p *Pool) drawdownLockedLocked() bool {
	return p.drawdownPctLocked() >= p.maxDrawdownPct
}
