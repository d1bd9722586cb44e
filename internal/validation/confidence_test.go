package validation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/execution"
	"github.com/wardenlabs/warden/internal/marketdata"
)

type sliceSource []ShadowRecord

func (s sliceSource) Records() []ShadowRecord { return s }

type fixedDays int

func (d fixedDays) ActiveTradingDays() int { return int(d) }

// syntheticRecords builds finalized records that fill exactly at the ask, so
// simulated cost matches the half spread and parity is clean.
func syntheticRecords(n int, strategyID string, regime domain.Regime, pnl float64) []ShadowRecord {
	return syntheticRecordsAt(n, strategyID, regime, pnl, 102)
}

func syntheticRecordsAt(n int, strategyID string, regime domain.Regime, pnl, fillPrice float64) []ShadowRecord {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := make([]ShadowRecord, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		records = append(records, ShadowRecord{
			DecisionTS:  ts,
			StrategyID:  strategyID,
			Symbol:      "BTC/USD",
			Side:        domain.SideBuy,
			Quantity:    decimal.NewFromInt(1),
			AtDecision:  MarketSnapshot{Bid: 100, Ask: 102, Last: 101, Timestamp: ts},
			AtWindowEnd: MarketSnapshot{Bid: 100, Ask: 102, Last: 101, Timestamp: ts.Add(5 * time.Minute)},
			Fill: FillSummary{
				Success:   true,
				Price:     decimal.NewFromFloat(fillPrice),
				Quantity:  decimal.NewFromInt(1),
				Fees:      decimal.NewFromFloat(0.26),
				LatencyMs: 150,
			},
			HypotheticalPnL:  decimal.NewFromFloat(pnl),
			Regime:           domain.RegimeVerdict{Regime: regime, Confidence: 0.8, Symbol: "BTC/USD", Timestamp: ts},
			ObservedFillable: true,
			Finalized:        true,
		})
	}
	return records
}

func balancedEvidence(total int) []ShadowRecord {
	half := total / 2
	records := syntheticRecords(half, "S1", domain.RegimeFavorable, 1)
	return append(records, syntheticRecords(total-half, "S1", domain.RegimeUnfavorable, 1)...)
}

func newGate(records []ShadowRecord, days int) *Gate {
	return NewGate(sliceSource(records), fixedDays(days), GateConfig{}, zerolog.Nop())
}

func TestGateBlocksBelowTradeFloor(t *testing.T) {
	gate := newGate(balancedEvidence(499), 150)

	rep := gate.Check()
	assert.False(t, rep.Allowed)
	require.Len(t, rep.Reasons, 1)
	assert.Equal(t, "shadow trade count 499 below required 500", rep.Reasons[0])
	assert.Equal(t, 499, rep.Metrics.ShadowTrades)
	assert.GreaterOrEqual(t, rep.Metrics.Score, 90.0)
}

func TestGateAllowsWithFullEvidence(t *testing.T) {
	gate := newGate(balancedEvidence(500), 120)

	rep := gate.Check()
	assert.True(t, rep.Allowed)
	assert.Empty(t, rep.Reasons)
	assert.GreaterOrEqual(t, rep.Metrics.Score, 90.0)

	assert.True(t, gate.Allow(context.Background()).Allowed)
	assert.NoError(t, gate.Enforce())
}

func TestGateBlocksOnActiveDays(t *testing.T) {
	gate := newGate(balancedEvidence(500), 99)

	rep := gate.Check()
	assert.False(t, rep.Allowed)
	require.Len(t, rep.Reasons, 1)
	assert.Equal(t, "active trading days 99 below required 100", rep.Reasons[0])
}

func TestGateBlocksOnRegimeCoverage(t *testing.T) {
	gate := newGate(syntheticRecords(500, "S1", domain.RegimeFavorable, 1), 120)

	rep := gate.Check()
	assert.False(t, rep.Allowed)
	require.Len(t, rep.Reasons, 2)
	assert.Contains(t, rep.Reasons[0], "confidence score")
	assert.Equal(t, "regime unfavorable covered by 0 shadow trades, need 50", rep.Reasons[1])
}

func TestGateBlocksOnUnsafeCombo(t *testing.T) {
	records := syntheticRecords(250, "S1", domain.RegimeFavorable, 1)
	records = append(records, syntheticRecords(250, "S1", domain.RegimeUnfavorable, -1)...)
	gate := newGate(records, 120)

	rep := gate.Check()
	assert.False(t, rep.Allowed)
	require.Len(t, rep.Reasons, 1)
	assert.Equal(t, "strategy S1 shows negative expectancy in unfavorable regime over 250 shadow trades", rep.Reasons[0])
}

func TestGateScoresDownBadParity(t *testing.T) {
	// Fills at 110 against mid 101 run roughly eight points of excess cost,
	// zeroing the parity component: 30 volume + 25 longevity + 15 coverage.
	half := syntheticRecordsAt(250, "S1", domain.RegimeFavorable, 1, 110)
	records := append(half, syntheticRecordsAt(250, "S1", domain.RegimeUnfavorable, 1, 110)...)
	gate := newGate(records, 120)

	rep := gate.Check()
	assert.False(t, rep.Allowed)
	require.Len(t, rep.Reasons, 1)
	assert.Equal(t, "confidence score 70.0 below required 90.0", rep.Reasons[0])
}

func TestAllowVerdictCarriesLayerAndCategory(t *testing.T) {
	gate := newGate(balancedEvidence(499), 150)

	v := gate.Allow(context.Background())
	assert.False(t, v.Allowed)
	assert.Equal(t, domain.LayerConfidence, v.Layer)
	assert.Equal(t, domain.CategoryConfidenceGate, v.Category)
	assert.Equal(t, "shadow trade count 499 below required 500", v.Reason)
}

func TestEnforceReturnsCategorizedError(t *testing.T) {
	gate := newGate(nil, 0)

	err := gate.Enforce()
	require.Error(t, err)
	assert.Equal(t, domain.CategoryConfidenceGate, domain.CategoryOf(err))
	assert.Contains(t, err.Error(), "shadow trade count 0 below required 500")
}

type allowCapital struct{}

func (allowCapital) Check(string, decimal.Decimal) domain.Verdict { return domain.Allow() }

type allowRegime struct{}

func (allowRegime) Check(context.Context, domain.TradeIntent) domain.Verdict { return domain.Allow() }

type allowPermission struct{}

func (allowPermission) Check(domain.TradeIntent, domain.ExecutionMode) domain.Verdict {
	return domain.Allow()
}

type allowRisk struct{}

func (allowRisk) Check(context.Context, domain.TradeIntent) domain.Verdict { return domain.Allow() }
func (allowRisk) RecordFill(string, decimal.Decimal)                       {}

type nopPnL struct{}

func (nopPnL) ApplyTradePnL(string, decimal.Decimal) {}

// Live execution stays blocked behind the gate while simulation keeps
// working, and the denial is journaled as a ConfidenceGateBlocked event.
func TestLiveExecutionBlockedUntilEvidenceAccumulates(t *testing.T) {
	journal, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	cache := marketdata.NewCache(0)
	cache.SetTicker(marketdata.Ticker{Symbol: "BTC/USD", Bid: 100, Ask: 102, Last: 101, Timestamp: time.Now().UTC()})

	simCfg := execution.DefaultSimulatorConfig()
	simCfg.Latency = 0

	gate := newGate(balancedEvidence(499), 150)
	deps := execution.Deps{
		Capital:    allowCapital{},
		Regime:     allowRegime{},
		Permission: allowPermission{},
		Risk:       allowRisk{},
		Confidence: gate,
		Market:     cache,
		PnL:        nopPnL{},
		Simulated:  execution.NewSimulatedAdapter(cache, simCfg, zerolog.Nop()),
		Journal:    journal,
	}

	real := execution.NewManager(
		execution.ManagerConfig{Mode: domain.ExecutionReal, IntentDeadline: 5 * time.Second},
		deps, zerolog.Nop())
	intent := domain.NewIntent("S1", "BTC/USD", domain.SideBuy,
		decimal.NewFromFloat(0.1), decimal.NewFromFloat(10.1), time.Now().UTC())
	out := real.Execute(context.Background(), intent)

	assert.False(t, out.Success)
	assert.Equal(t, domain.LayerConfidence, out.BlockingLayer)
	assert.Equal(t, domain.CategoryConfidenceGate, out.Category)
	assert.Contains(t, out.ErrorText(), "shadow trade count 499 below required 500")

	blocked := journal.Filter(events.Query{Type: events.ConfidenceGateBlocked})
	require.Len(t, blocked, 1)
	assert.Contains(t, blocked[0].Reason, "shadow trade count 499")

	sim := execution.NewManager(
		execution.ManagerConfig{Mode: domain.ExecutionSimulation, IntentDeadline: 5 * time.Second},
		deps, zerolog.Nop())
	simOut := sim.Execute(context.Background(), domain.NewIntent("S1", "BTC/USD", domain.SideBuy,
		decimal.NewFromFloat(0.1), decimal.NewFromFloat(10.1), time.Now().UTC()))
	assert.True(t, simOut.Success)

	shadow := execution.NewManager(
		execution.ManagerConfig{Mode: domain.ExecutionShadow, IntentDeadline: 5 * time.Second},
		deps, zerolog.Nop())
	shadowOut := shadow.Execute(context.Background(), domain.NewIntent("S1", "BTC/USD", domain.SideBuy,
		decimal.NewFromFloat(0.1), decimal.NewFromFloat(10.1), time.Now().UTC()))
	assert.True(t, shadowOut.Success)
}
