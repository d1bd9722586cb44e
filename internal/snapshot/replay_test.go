package snapshot

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/events"
)

func TestReplayMatchesCleanSnapshot(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)

	sealed, err := NewGenerator(journal, zerolog.Nop()).Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	res := ReplayDay("2026-03-01", journal, &sealed.Snapshot)

	assert.True(t, res.Replayed)
	assert.Equal(t, 3, res.TradesExecuted)
	assert.Equal(t, 2, res.TradesBlocked)
	assert.Empty(t, res.Discrepancies)
}

func TestReplayReportsMutatedSnapshot(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)

	sealed, err := NewGenerator(journal, zerolog.Nop()).Generate(testInputs("2026-03-01"))
	require.NoError(t, err)

	mutated := sealed.Snapshot
	mutated.TradesExecuted = 4

	res := ReplayDay("2026-03-01", journal, &mutated)

	assert.True(t, res.Replayed)
	require.Len(t, res.Discrepancies, 1)
	assert.Contains(t, res.Discrepancies[0], "snapshot has 4")
	assert.Contains(t, res.Discrepancies[0], "replay counted 3")

	// the original record is untouched
	assert.Equal(t, 3, sealed.Snapshot.TradesExecuted)
}

func TestReplayFoldsModeRiskAndDrawdown(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	journal.Emit(events.SystemModeChange, "operator cleared", map[string]interface{}{"to": "aggressive"})
	journal.Emit(events.CapitalUpdate, "allocation", map[string]interface{}{"drawdownPct": 7.5})
	journal.Emit(events.CapitalUpdate, "allocation", map[string]interface{}{"drawdownPct": 3.2})
	journal.Emit(events.RiskCheck, "daily loss limit breached", map[string]interface{}{"paused": true})

	res := ReplayDay("2026-03-01", journal, nil)

	assert.Equal(t, "aggressive", res.FinalMode)
	assert.Equal(t, "paused", res.FinalRiskState)
	assert.Equal(t, 7.5, res.MaxDrawdownPct)
}

func TestReplayPauseThenClearEndsNormal(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	journal.Emit(events.RiskCheck, "daily loss limit breached", map[string]interface{}{"paused": true})
	journal.Emit(events.RiskCheck, "risk pause manually cleared", map[string]interface{}{"paused": false})

	res := ReplayDay("2026-03-01", journal, nil)
	assert.Equal(t, "normal", res.FinalRiskState)
}

func TestReplayIsDeterministic(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	seedTradingDay(journal)

	first := ReplayDay("2026-03-01", journal, nil)
	second := ReplayDay("2026-03-01", journal, nil)
	assert.Equal(t, first, second)
}

func TestReplayEmptyDay(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	res := ReplayDay("2026-03-01", journal, nil)
	assert.True(t, res.Replayed)
	assert.Equal(t, 0, res.Events)
	assert.Equal(t, "observe_only", res.FinalMode)
}

func TestReplayRangeWalksDays(t *testing.T) {
	journal, clock := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	journal.Emit(events.TradeExecuted, "", nil)

	*clock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	journal.Emit(events.TradeExecuted, "", nil)
	journal.Emit(events.TradeBlocked, "", map[string]interface{}{"category": "risk_denied"})

	*clock = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	journal.Emit(events.TradeBlocked, "", map[string]interface{}{"category": "capital_denied"})

	results, err := ReplayRange("2026-03-01", "2026-03-03", journal, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "2026-03-01", results[0].Date)
	assert.Equal(t, 1, results[0].TradesExecuted)
	assert.Equal(t, 1, results[1].TradesExecuted)
	assert.Equal(t, 1, results[1].TradesBlocked)
	assert.Equal(t, 1, results[2].TradesBlocked)
}

func TestReplayRangeRejectsInvertedBounds(t *testing.T) {
	journal, _ := journalAt(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	_, err := ReplayRange("2026-03-03", "2026-03-01", journal, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before start")
}
