package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

type stubVol struct {
	value float64
}

func (s stubVol) ObservedVolatility(_ context.Context, _ string) float64 { return s.value }

type riskFixture struct {
	governor  *Governor
	allocator *capital.Allocator
	journal   *events.Log
}

func newRiskFixture(t *testing.T, cfg Config, vol float64) *riskFixture {
	t.Helper()

	journal, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	registry := domain.NewStrategyRegistry()
	registry.Register(domain.Strategy{ID: "trend-1", Type: domain.StrategyTrend, RiskProfile: domain.ProfileBalanced, RegimeDependent: true})
	registry.Register(domain.Strategy{ID: "arb-1", Type: domain.StrategySpotPerpArb, RiskProfile: domain.ProfileBalanced})

	directional := capital.NewPool("directional", decimal.NewFromInt(10000), 20, zerolog.Nop())
	arbitrage := capital.NewPool("arbitrage", decimal.NewFromInt(2000), 10, zerolog.Nop())
	accounts := capital.NewAccountManager()
	allocator := capital.NewAllocator(registry, directional, arbitrage, accounts, capital.DefaultAllocatorConfig(), journal, zerolog.Nop())

	governor := NewGovernor(cfg, registry, allocator, stubVol{value: vol}, journal, zerolog.Nop())
	return &riskFixture{governor: governor, allocator: allocator, journal: journal}
}

func riskIntent(strategyID string, value float64) domain.TradeIntent {
	return domain.NewIntent(strategyID, "BTC/USD", domain.SideBuy,
		decimal.NewFromFloat(0.01), decimal.NewFromFloat(value), time.Now().UTC())
}

func riskEventCategories(journal *events.Log) []string {
	var out []string
	for _, ev := range journal.All() {
		if ev.Type != events.RiskCheck {
			continue
		}
		if cat, ok := ev.Metadata["category"].(string); ok {
			out = append(out, cat)
		}
	}
	return out
}

func TestAllowsWithinLimits(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 3, MaxDailyLossPct: 3, MaxPositionSizePct: 10, VolatilityCeiling: 150}, 50)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 500))
	assert.True(t, verdict.Allowed)
	assert.Equal(t, "normal", fx.governor.State().Label())
}

func TestDailyTradeLimitBlocks(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 3, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	for i := 0; i < 3; i++ {
		fx.governor.RecordFill("trend-1", decimal.Zero)
	}
	require.Equal(t, 3, fx.governor.TradesToday("trend-1"))

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 100))
	assert.False(t, verdict.Allowed)
	assert.Equal(t, domain.LayerRisk, verdict.Layer)
	assert.Equal(t, domain.CategoryRiskDenied, verdict.Category)
	assert.Contains(t, verdict.Reason, "daily trade limit")
	assert.Contains(t, riskEventCategories(fx.journal), string(DailyLimit))
}

func TestPositionSizeBlocks(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(2000), nil)

	// 10% of the 10000 directional pool caps positions at 1000.
	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 1500))
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "exceeds")
	assert.Contains(t, riskEventCategories(fx.journal), string(PositionSize))
}

func TestVolatilityCeilingBlocks(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10, VolatilityCeiling: 150}, 210)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 500))
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "volatility")
	assert.Contains(t, riskEventCategories(fx.journal), string(Volatility))
}

func TestInsufficientBalanceBlocks(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(500), nil)

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 800))
	assert.False(t, verdict.Allowed)
	assert.Contains(t, riskEventCategories(fx.journal), string(InsufficientBalance))
}

func TestNoAccountBlocks(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 100))
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "no capital account")
}

func TestDailyLossPausesUntilResume(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	// 400 lost against 12000 of combined equity is 3.33%, over the 3% limit.
	fx.governor.RecordFill("trend-1", decimal.NewFromInt(-400))

	state := fx.governor.State()
	require.True(t, state.Paused)
	assert.Equal(t, DrawdownLimit, state.Category)
	assert.Equal(t, "paused", state.Label())

	verdict := fx.governor.Check(context.Background(), riskIntent("trend-1", 100))
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "risk governor paused")

	fx.governor.Resume("operator override")
	assert.Equal(t, "normal", fx.governor.State().Label())
	assert.True(t, fx.governor.Check(context.Background(), riskIntent("trend-1", 100)).Allowed)
}

func TestSmallLossDoesNotPause(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	fx.governor.RecordFill("trend-1", decimal.NewFromInt(-100))
	assert.False(t, fx.governor.State().Paused)
}

func TestDayRolloverClearsBooksAndPause(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 2, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	fx.governor.SetClock(func() time.Time { return now })

	fx.governor.RecordFill("trend-1", decimal.NewFromInt(-500))
	fx.governor.RecordFill("trend-1", decimal.Zero)
	require.True(t, fx.governor.State().Paused)
	require.Equal(t, 2, fx.governor.TradesToday("trend-1"))

	// First touch of the next UTC day rolls the books without the scheduler.
	now = now.Add(2 * time.Hour)
	assert.True(t, fx.governor.Check(context.Background(), riskIntent("trend-1", 100)).Allowed)
	assert.Equal(t, 0, fx.governor.TradesToday("trend-1"))
	assert.False(t, fx.governor.State().Paused)
}

func TestRolloverJournalsClearedPause(t *testing.T) {
	fx := newRiskFixture(t, Config{MaxDailyTrades: 50, MaxDailyLossPct: 3, MaxPositionSizePct: 10}, 0)
	fx.allocator.AllocateToStrategy("trend-1", decimal.NewFromInt(1000), nil)

	fx.governor.RecordFill("trend-1", decimal.NewFromInt(-500))
	require.True(t, fx.governor.State().Paused)

	fx.governor.Rollover()
	assert.False(t, fx.governor.State().Paused)

	var reasons []string
	for _, ev := range fx.journal.All() {
		if ev.Type == events.RiskCheck {
			reasons = append(reasons, ev.Reason)
		}
	}
	assert.Contains(t, reasons, "risk pause cleared by day rollover")
}
