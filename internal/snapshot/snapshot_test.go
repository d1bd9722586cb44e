package snapshot

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/events"
)

// journalAt returns a journal whose clock the test can move by reassigning
// *current.
func journalAt(t *testing.T, start time.Time) (*events.Log, *time.Time) {
	t.Helper()
	current := start
	journal, err := events.NewLog(events.Config{
		Log: zerolog.Nop(),
		Now: func() time.Time { return current },
	})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal, &current
}

func testInputs(date string) Inputs {
	directional := capital.NewPool("directional", decimal.NewFromInt(10000), 20, zerolog.Nop())
	arb := capital.NewPool("arbitrage", decimal.NewFromInt(2000), 10, zerolog.Nop())
	return Inputs{
		Date:             date,
		Directional:      directional.Metrics(),
		Arbitrage:        arb.Metrics(),
		StrategyPnL:      map[string]decimal.Decimal{"A1": decimal.NewFromFloat(-0.26)},
		StrategyDrawdown: map[string]float64{"A1": 0},
		Allocations:      map[string]decimal.Decimal{"A1": decimal.NewFromInt(1000)},
	}
}

// seedTradingDay writes one signal, three executions, two blocks and some
// regime churn.
func seedTradingDay(journal *events.Log) {
	journal.Emit(events.SignalGenerated, "signal accepted", nil)
	for i := 0; i < 3; i++ {
		journal.Emit(events.TradeExecuted, "", map[string]interface{}{"symbol": "BTC/USD"})
	}
	journal.Emit(events.TradeBlocked, "observe-only mode", map[string]interface{}{"category": "permission_denied"})
	journal.Emit(events.TradeBlocked, "daily trade limit reached", map[string]interface{}{"category": "risk_denied"})
	journal.Emit(events.RegimeDetected, "regime classification", map[string]interface{}{"regime": "favorable"})
	journal.Emit(events.RegimeDetected, "regime classification", map[string]interface{}{"regime": "favorable"})
	journal.Emit(events.RegimeDetected, "regime classification", map[string]interface{}{"regime": "unfavorable"})
}

func TestGenerateFoldsDayEvents(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)
	journal.Emit(events.SystemModeChange, "operator cleared", map[string]interface{}{"from": "observe_only", "to": "aggressive"})
	journal.Emit(events.RiskCheck, "daily loss limit breached", map[string]interface{}{"category": "drawdown_limit", "paused": true})

	gen := NewGenerator(journal, zerolog.Nop())
	sealed, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	snap := sealed.Snapshot
	assert.Equal(t, "2026-03-01", snap.Date)
	assert.Equal(t, 3, snap.TradesExecuted)
	assert.Equal(t, 2, snap.TradesBlocked)
	assert.Equal(t, 5, snap.TradesAttempted)
	assert.Equal(t, 11, snap.EventCount)
	assert.Equal(t, "aggressive", snap.SystemMode)
	assert.Equal(t, "paused", snap.RiskState)
	assert.True(t, snap.TotalEquity.Equal(decimal.NewFromInt(12000)))

	assert.Equal(t, map[string]int{"favorable": 2, "unfavorable": 1}, snap.RegimeDistribution)
	assert.Equal(t, map[string]int{"permission_denied": 1, "risk_denied": 1}, snap.BlockReasons)
	assert.Equal(t, 3, snap.EventHistogram["TradeExecuted"])
	assert.Equal(t, 1, snap.EventHistogram["SignalGenerated"])

	require.NotEmpty(t, sealed.Payload)
	assert.Len(t, sealed.Checksum, 64)
}

func TestGenerateIsByteEqualOnRegeneration(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)

	gen := NewGenerator(journal, zerolog.Nop())
	first, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)
	second, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestGenerateNewEventChangesChecksum(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)

	gen := NewGenerator(journal, zerolog.Nop())
	first, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	journal.Emit(events.TradeExecuted, "", nil)
	second, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Checksum, second.Checksum)
	assert.Equal(t, first.Snapshot.TradesExecuted+1, second.Snapshot.TradesExecuted)
}

func TestGenerateCarriesModeFromPriorDays(t *testing.T) {
	journal, clock := journalAt(t, time.Date(2026, 2, 27, 15, 0, 0, 0, time.UTC))
	journal.Emit(events.SystemModeChange, "operator cleared", map[string]interface{}{"to": "aggressive"})

	// a quiet day two days later
	*clock = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	gen := NewGenerator(journal, zerolog.Nop())
	sealed, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	assert.Equal(t, 0, sealed.Snapshot.EventCount)
	assert.Equal(t, "aggressive", sealed.Snapshot.SystemMode)
	assert.Equal(t, "normal", sealed.Snapshot.RiskState)
}

func TestGenerateIgnoresLaterDays(t *testing.T) {
	journal, clock := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	journal.Emit(events.TradeExecuted, "", nil)

	*clock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	journal.Emit(events.TradeExecuted, "", nil)
	journal.Emit(events.SystemModeChange, "operator cleared", map[string]interface{}{"to": "aggressive"})

	gen := NewGenerator(journal, zerolog.Nop())
	sealed, err := gen.Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	assert.Equal(t, 1, sealed.Snapshot.TradesExecuted)
	assert.Equal(t, "observe_only", sealed.Snapshot.SystemMode)
}

func TestGenerateRejectsMalformedDate(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	gen := NewGenerator(journal, zerolog.Nop())

	_, err := gen.Generate(testInputs("03/01/2026"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid snapshot date")
}
