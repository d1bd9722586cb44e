// Package risk is the final pre-execution gate. It enforces per-account daily
// trade limits, position sizing against pool equity, a volatility ceiling and
// a balance check, and trips a system-wide pause when realized daily losses
// cross the configured threshold.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// Category labels which limit a denial hit. It rides in the verdict reason
// and event metadata; the outcome category stays CategoryRiskDenied.
type Category string

const (
	DailyLimit          Category = "daily_limit"
	DrawdownLimit       Category = "drawdown_limit"
	PositionSize        Category = "position_size"
	Volatility          Category = "volatility"
	InsufficientBalance Category = "insufficient_balance"
)

// Config carries the daily risk limits.
type Config struct {
	MaxDailyTrades     int
	MaxDailyLossPct    float64
	MaxPositionSizePct float64
	VolatilityCeiling  float64
}

// VolatilitySource yields the current volatility estimate for a symbol.
type VolatilitySource interface {
	ObservedVolatility(ctx context.Context, symbol string) float64
}

// CapitalView is the slice of the allocator the governor reads from.
type CapitalView interface {
	PoolFor(kind domain.PoolKind) *capital.Pool
	Accounts() *capital.AccountManager
}

// State reports whether the governor is pausing execution.
type State struct {
	Paused   bool      `json:"paused"`
	Category Category  `json:"category,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

func (s State) Label() string {
	if s.Paused {
		return "paused"
	}
	return "normal"
}

type dayBook struct {
	day    string
	trades int
	pnl    decimal.Decimal // signed realized P&L for the day
	loss   decimal.Decimal // realized losses accumulated today, positive
}

// Governor tracks per-strategy day books and the system pause state. Books
// roll over lazily on the first touch of a new UTC day and eagerly via
// Rollover from the scheduler.
type Governor struct {
	mu       sync.Mutex
	cfg      Config
	registry *domain.StrategyRegistry
	capital  CapitalView
	vol      VolatilitySource
	journal  *events.Log
	log      zerolog.Logger
	now      func() time.Time

	books     map[string]*dayBook
	systemDay string
	loss      decimal.Decimal // system realized loss for the day, positive
	state     State
}

// NewGovernor builds the governor with sane fallbacks for zero limits.
func NewGovernor(cfg Config, registry *domain.StrategyRegistry, cap CapitalView, vol VolatilitySource, journal *events.Log, log zerolog.Logger) *Governor {
	if cfg.MaxDailyTrades <= 0 {
		cfg.MaxDailyTrades = 50
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = 3
	}
	if cfg.MaxPositionSizePct <= 0 {
		cfg.MaxPositionSizePct = 10
	}
	return &Governor{
		cfg:      cfg,
		registry: registry,
		capital:  cap,
		vol:      vol,
		journal:  journal,
		log:      log.With().Str("component", "risk_governor").Logger(),
		now:      time.Now,
		books:    make(map[string]*dayBook),
	}
}

// SetClock overrides the day clock, for tests.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Check evaluates an intent against all limits. Denials journal a RiskCheck
// event carrying the tripped category; the caller writes the terminal event.
func (g *Governor) Check(ctx context.Context, intent domain.TradeIntent) domain.Verdict {
	g.mu.Lock()
	day := g.dayLocked()
	g.rolloverLocked(day)

	if g.state.Paused {
		category, reason := g.state.Category, g.state.Reason
		g.mu.Unlock()
		return g.deny(intent, category, fmt.Sprintf("risk governor paused: %s", reason))
	}

	strategy, ok := g.registry.Get(intent.StrategyID)
	if !ok {
		g.mu.Unlock()
		return g.deny(intent, InsufficientBalance, fmt.Sprintf("strategy %s is not registered", intent.StrategyID))
	}

	book := g.bookLocked(intent.StrategyID, day)
	if book.trades >= g.cfg.MaxDailyTrades {
		trades := book.trades
		g.mu.Unlock()
		return g.deny(intent, DailyLimit, fmt.Sprintf("daily trade limit reached (%d of %d)", trades, g.cfg.MaxDailyTrades))
	}

	pool := g.capital.PoolFor(strategy.Type.PoolKind())
	maxPosition := pool.Metrics().Total.Mul(decimal.NewFromFloat(g.cfg.MaxPositionSizePct / 100))
	if intent.EstimatedValue.GreaterThan(maxPosition) {
		g.mu.Unlock()
		return g.deny(intent, PositionSize, fmt.Sprintf("position %s exceeds %.1f%% of pool equity (%s)",
			intent.EstimatedValue.StringFixed(2), g.cfg.MaxPositionSizePct, maxPosition.StringFixed(2)))
	}

	account, hasAccount := g.capital.Accounts().Get(intent.StrategyID)
	g.mu.Unlock()

	if g.cfg.VolatilityCeiling > 0 && g.vol != nil {
		if v := g.vol.ObservedVolatility(ctx, intent.Symbol); v > g.cfg.VolatilityCeiling {
			return g.deny(intent, Volatility, fmt.Sprintf("volatility %.1f%% above ceiling %.1f%%", v, g.cfg.VolatilityCeiling))
		}
	}

	if !hasAccount {
		return g.deny(intent, InsufficientBalance, fmt.Sprintf("no capital account for strategy %s", intent.StrategyID))
	}
	if account.Allocated.LessThan(intent.EstimatedValue) {
		return g.deny(intent, InsufficientBalance, fmt.Sprintf("allocated %s cannot cover intent value %s",
			account.Allocated.StringFixed(2), intent.EstimatedValue.StringFixed(2)))
	}

	return domain.Allow()
}

// RecordFill books an executed trade into the day accounting. Losses count
// toward the system daily-loss threshold; crossing it pauses the governor.
func (g *Governor) RecordFill(strategyID string, pnl decimal.Decimal) {
	g.mu.Lock()
	day := g.dayLocked()
	g.rolloverLocked(day)

	book := g.bookLocked(strategyID, day)
	book.trades++
	book.pnl = book.pnl.Add(pnl)
	if pnl.IsNegative() {
		loss := pnl.Neg()
		book.loss = book.loss.Add(loss)
		g.loss = g.loss.Add(loss)
	}

	if !g.state.Paused && g.lossPctLocked() >= g.cfg.MaxDailyLossPct {
		g.state = State{
			Paused:   true,
			Category: DrawdownLimit,
			Reason:   fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", g.lossPctLocked(), g.cfg.MaxDailyLossPct),
			Since:    g.now().UTC(),
		}
		reason := g.state.Reason
		g.mu.Unlock()

		g.log.Warn().Str("reason", reason).Msg("Risk governor paused")
		g.journal.Emit(events.RiskCheck, "daily loss limit breached", map[string]interface{}{
			"category": string(DrawdownLimit),
			"paused":   true,
		})
		return
	}
	g.mu.Unlock()
}

// Resume lifts a pause before the day rolls over.
func (g *Governor) Resume(reason string) {
	g.mu.Lock()
	if !g.state.Paused {
		g.mu.Unlock()
		return
	}
	g.state = State{}
	g.mu.Unlock()

	g.log.Info().Str("reason", reason).Msg("Risk governor resumed")
	g.journal.Emit(events.RiskCheck, "risk pause manually cleared", map[string]interface{}{
		"reason": reason,
		"paused": false,
	})
}

// Rollover resets the day books. The scheduler calls it at UTC midnight;
// Check and RecordFill also roll lazily so a stalled scheduler cannot leak
// yesterday's counters into today.
func (g *Governor) Rollover() {
	g.mu.Lock()
	wasPaused := g.state.Paused
	g.resetLocked(g.dayLocked())
	g.mu.Unlock()

	if wasPaused {
		g.log.Info().Msg("Risk pause cleared by day rollover")
		g.journal.Emit(events.RiskCheck, "risk pause cleared by day rollover", map[string]interface{}{
			"paused": false,
		})
	}
}

// State returns the current pause state for the status surface.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.dayLocked())
	return g.state
}

// TradesToday reports the day book counter for one strategy.
func (g *Governor) TradesToday(strategyID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.dayLocked()
	g.rolloverLocked(day)
	if book, ok := g.books[strategyID]; ok && book.day == day {
		return book.trades
	}
	return 0
}

// DailyPnL returns today's signed realized P&L per strategy. The snapshot
// generator consumes it at the end of the day.
func (g *Governor) DailyPnL() map[string]decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.dayLocked()
	g.rolloverLocked(day)

	out := make(map[string]decimal.Decimal, len(g.books))
	for id, book := range g.books {
		if book.day == day {
			out[id] = book.pnl
		}
	}
	return out
}

func (g *Governor) deny(intent domain.TradeIntent, category Category, reason string) domain.Verdict {
	g.journal.EmitFor(events.RiskCheck, intent.StrategyID, intent.StrategyID, reason, map[string]interface{}{
		"category": string(category),
		"intentId": intent.ID,
		"symbol":   intent.Symbol,
	})
	return domain.Deny(domain.LayerRisk, domain.CategoryRiskDenied, reason)
}

func (g *Governor) dayLocked() string {
	return g.now().UTC().Format("2006-01-02")
}

func (g *Governor) rolloverLocked(day string) {
	if g.systemDay != day {
		g.resetLocked(day)
	}
}

func (g *Governor) resetLocked(day string) {
	g.systemDay = day
	g.books = make(map[string]*dayBook)
	g.loss = decimal.Zero
	g.state = State{}
}

func (g *Governor) bookLocked(strategyID, day string) *dayBook {
	book, ok := g.books[strategyID]
	if !ok || book.day != day {
		book = &dayBook{day: day}
		g.books[strategyID] = book
	}
	return book
}

func (g *Governor) lossPctLocked() float64 {
	total := g.capital.PoolFor(domain.PoolDirectional).Metrics().Total.
		Add(g.capital.PoolFor(domain.PoolArbitrage).Metrics().Total)
	if !total.IsPositive() {
		return 0
	}
	pct, _ := g.loss.Div(total).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
