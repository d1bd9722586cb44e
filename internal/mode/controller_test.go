package mode

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

func newJournal(t *testing.T) *events.Log {
	t.Helper()
	l, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)
	return l
}

func TestControllerBootsObserveOnly(t *testing.T) {
	c := NewController(newJournal(t), zerolog.Nop())
	assert.Equal(t, domain.ModeObserveOnly, c.Current())
	assert.False(t, c.TradingAllowed())
}

func TestAggressiveRequiresClearance(t *testing.T) {
	journal := newJournal(t)
	c := NewController(journal, zerolog.Nop())

	err := c.Set(domain.ModeAggressive, "operator request")
	require.Error(t, err)
	assert.Equal(t, domain.ModeObserveOnly, c.Current())
	assert.Empty(t, journal.Filter(events.Query{Type: events.SystemModeChange}))

	c.ClearForAggressive()
	require.NoError(t, c.Set(domain.ModeAggressive, "operator request"))
	assert.True(t, c.TradingAllowed())

	changes := journal.Filter(events.Query{Type: events.SystemModeChange})
	require.Len(t, changes, 1)
	assert.Equal(t, "observe_only", changes[0].Metadata["from"])
	assert.Equal(t, "aggressive", changes[0].Metadata["to"])
}

func TestForceObserveOnlyAlwaysSucceeds(t *testing.T) {
	journal := newJournal(t)
	c := NewController(journal, zerolog.Nop())
	c.ClearForAggressive()
	require.NoError(t, c.Set(domain.ModeAggressive, "startup"))

	c.ForceObserveOnly("integrity violation")
	assert.Equal(t, domain.ModeObserveOnly, c.Current())

	changes := journal.Filter(events.Query{Type: events.SystemModeChange})
	require.Len(t, changes, 2)
	assert.Equal(t, true, changes[1].Metadata["failSafe"])

	// Dropping again is a no-op, not a second event.
	c.ForceObserveOnly("again")
	assert.Len(t, journal.Filter(events.Query{Type: events.SystemModeChange}), 2)
}

type stubStates map[string]domain.LifecycleState

func (s stubStates) StateOf(id string) (domain.LifecycleState, bool) {
	st, ok := s[id]
	return st, ok
}

func testIntent(strategy string) domain.TradeIntent {
	return domain.NewIntent(strategy, "BTC/USD", domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(100),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestPermissionGateObserveOnlyBlocksRealOnly(t *testing.T) {
	c := NewController(newJournal(t), zerolog.Nop())
	gate := NewPermissionGate(c, stubStates{"alpha": domain.StateActive})

	v := gate.Check(testIntent("alpha"), domain.ExecutionReal)
	require.False(t, v.Allowed)
	assert.Equal(t, domain.LayerPermission, v.Layer)
	assert.Equal(t, domain.CategoryPermissionDenied, v.Category)

	assert.True(t, gate.Check(testIntent("alpha"), domain.ExecutionSimulation).Allowed)
	assert.True(t, gate.Check(testIntent("alpha"), domain.ExecutionShadow).Allowed)
}

func TestPermissionGateAggressiveRequiresActiveAccount(t *testing.T) {
	c := NewController(newJournal(t), zerolog.Nop())
	c.ClearForAggressive()
	require.NoError(t, c.Set(domain.ModeAggressive, "test"))

	states := stubStates{
		"active":    domain.StateActive,
		"probation": domain.StateProbation,
		"paused":    domain.StatePaused,
	}
	gate := NewPermissionGate(c, states)

	assert.True(t, gate.Check(testIntent("active"), domain.ExecutionReal).Allowed)
	assert.False(t, gate.Check(testIntent("probation"), domain.ExecutionReal).Allowed)
	assert.False(t, gate.Check(testIntent("paused"), domain.ExecutionReal).Allowed)
	assert.False(t, gate.Check(testIntent("missing"), domain.ExecutionReal).Allowed)
}
