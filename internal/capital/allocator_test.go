package capital

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

type allocatorFixture struct {
	allocator   *Allocator
	directional *Pool
	arbitrage   *Pool
	accounts    *AccountManager
	journal     *events.Log
}

func newAllocatorFixture(t *testing.T) *allocatorFixture {
	t.Helper()

	registry := domain.NewStrategyRegistry()
	registry.Register(domain.Strategy{ID: "alpha", Type: domain.StrategyTrend, RiskProfile: domain.ProfileBalanced, RegimeDependent: true})
	registry.Register(domain.Strategy{ID: "aggro", Type: domain.StrategyTrend, RiskProfile: domain.ProfileAggressive, RegimeDependent: true})
	registry.Register(domain.Strategy{ID: "arb", Type: domain.StrategySpotPerpArb, RiskProfile: domain.ProfileBalanced, RegimeDependent: true})

	journal, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)

	directional := NewPool("directional", d(10000), 20, zerolog.Nop())
	arbitrage := NewPool("arbitrage", d(2000), 10, zerolog.Nop())
	accounts := NewAccountManager()

	return &allocatorFixture{
		allocator:   NewAllocator(registry, directional, arbitrage, accounts, DefaultAllocatorConfig(), journal, zerolog.Nop()),
		directional: directional,
		arbitrage:   arbitrage,
		accounts:    accounts,
		journal:     journal,
	}
}

func favorable(conf float64) *domain.RegimeVerdict {
	return &domain.RegimeVerdict{
		Regime:     domain.RegimeFavorable,
		Confidence: conf,
		Symbol:     "BTC/USD",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAllocateUnknownStrategy(t *testing.T) {
	f := newAllocatorFixture(t)
	granted := f.allocator.AllocateToStrategy("ghost", d(100), nil)
	assert.True(t, granted.IsZero())
}

func TestAllocateStandardPath(t *testing.T) {
	f := newAllocatorFixture(t)

	granted := f.allocator.AllocateToStrategy("alpha", d(1000), nil)
	assert.True(t, granted.Equal(d(1000)))

	acct, ok := f.accounts.Get("alpha")
	require.True(t, ok)
	assert.True(t, acct.Allocated.Equal(d(1000)))
	assert.True(t, acct.HasCapital())
	assertBooksBalance(t, f.directional)

	// The swap releases the prior grant before judging the new request,
	// so raising an allocation needs only the difference to be free.
	f.directional.Allocate(d(8500)) // someone else takes most of the pool
	granted = f.allocator.AllocateToStrategy("alpha", d(1400), nil)
	assert.True(t, granted.Equal(d(1400)), "granted %s", granted)
	assertBooksBalance(t, f.directional)
}

func TestAllocateKeepsPriorOnExhaustion(t *testing.T) {
	f := newAllocatorFixture(t)

	require.True(t, f.allocator.AllocateToStrategy("alpha", d(1000), nil).Equal(d(1000)))

	granted := f.allocator.AllocateToStrategy("alpha", d(50000), nil)
	assert.True(t, granted.IsZero())

	acct, _ := f.accounts.Get("alpha")
	assert.True(t, acct.Allocated.Equal(d(1000)), "prior allocation must stand")
	assertBooksBalance(t, f.directional)
}

func TestDisabledAndPausedZeroOut(t *testing.T) {
	f := newAllocatorFixture(t)

	require.False(t, f.allocator.AllocateToStrategy("alpha", d(1000), nil).IsZero())

	for _, state := range []domain.LifecycleState{domain.StateDisabled, domain.StatePaused} {
		f.accounts.UpdateState("alpha", state)
		granted := f.allocator.AllocateToStrategy("alpha", d(1000), nil)
		assert.True(t, granted.IsZero(), "state %s must zero out", state)

		acct, _ := f.accounts.Get("alpha")
		assert.True(t, acct.Allocated.IsZero())
		assert.True(t, f.directional.Metrics().Allocated.IsZero(), "pool capital must be released")
	}
}

func TestProbationDecaySchedule(t *testing.T) {
	f := newAllocatorFixture(t)

	require.True(t, f.allocator.AllocateToStrategy("alpha", d(400), nil).Equal(d(400)))
	f.accounts.UpdateState("alpha", domain.StateProbation)

	first := f.allocator.AllocateToStrategy("alpha", d(400), nil)
	assert.True(t, first.Equal(d(200)), "first decay: %s", first)

	second := f.allocator.AllocateToStrategy("alpha", d(400), nil)
	assert.True(t, second.Equal(d(100)), "second decay: %s", second)

	third := f.allocator.AllocateToStrategy("alpha", d(400), nil)
	assert.True(t, third.IsZero(), "exhausted probation must hold exactly zero")

	acct, _ := f.accounts.Get("alpha")
	assert.True(t, acct.Allocated.IsZero())
	assert.True(t, f.directional.Metrics().Allocated.IsZero())
	assertBooksBalance(t, f.directional)
}

func TestProbationCounterResetsOnReentry(t *testing.T) {
	f := newAllocatorFixture(t)

	require.False(t, f.allocator.AllocateToStrategy("alpha", d(400), nil).IsZero())
	f.accounts.UpdateState("alpha", domain.StateProbation)
	f.allocator.AllocateToStrategy("alpha", d(400), nil)
	f.allocator.AllocateToStrategy("alpha", d(400), nil)

	// Recovery to Active and a later relapse starts a fresh schedule.
	f.accounts.UpdateState("alpha", domain.StateActive)
	require.True(t, f.allocator.AllocateToStrategy("alpha", d(400), nil).Equal(d(400)))
	f.accounts.UpdateState("alpha", domain.StateProbation)

	granted := f.allocator.AllocateToStrategy("alpha", d(400), nil)
	assert.True(t, granted.Equal(d(200)), "fresh probation decays from the top: %s", granted)
}

func TestArbitrageMinimumFloor(t *testing.T) {
	f := newAllocatorFixture(t)

	granted := f.allocator.AllocateToStrategy("arb", d(10), nil)
	assert.True(t, granted.Equal(d(50)), "request below floor is raised to it, got %s", granted)

	acct, _ := f.accounts.Get("arb")
	assert.Equal(t, domain.PoolArbitrage, acct.PoolKind)
	assertBooksBalance(t, f.arbitrage)
}

func TestArbitragePoolBelowFloorStillAllocates(t *testing.T) {
	// A pool that starts under the $100 warn floor still allocates.
	registry := domain.NewStrategyRegistry()
	registry.Register(domain.Strategy{ID: "arb", Type: domain.StrategySpotPerpArb, RiskProfile: domain.ProfileBalanced})
	journal, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)
	small := NewPool("arbitrage", d(80), 10, zerolog.Nop())
	alloc := NewAllocator(registry, NewPool("directional", d(0), 20, zerolog.Nop()), small, NewAccountManager(), DefaultAllocatorConfig(), journal, zerolog.Nop())

	granted := alloc.AllocateToStrategy("arb", d(60), nil)
	assert.True(t, granted.Equal(d(60)), "warn-only floor must not block, got %s", granted)
}

func TestArbitrageDeniedWhenPoolCannotCoverFloor(t *testing.T) {
	registry := domain.NewStrategyRegistry()
	registry.Register(domain.Strategy{ID: "arb", Type: domain.StrategySpotPerpArb})
	journal, err := events.NewLog(events.Config{Log: zerolog.Nop()})
	require.NoError(t, err)
	small := NewPool("arbitrage", d(30), 10, zerolog.Nop())
	alloc := NewAllocator(registry, NewPool("directional", d(0), 20, zerolog.Nop()), small, NewAccountManager(), DefaultAllocatorConfig(), journal, zerolog.Nop())

	granted := alloc.AllocateToStrategy("arb", d(10), nil)
	assert.True(t, granted.IsZero(), "floor above pool capacity must deny")
}

func TestAggressiveConfidenceBands(t *testing.T) {
	cases := []struct {
		name    string
		regime  *domain.RegimeVerdict
		granted float64
	}{
		{"unknown regime zeroes", &domain.RegimeVerdict{Regime: domain.RegimeUnknown, Symbol: "BTC/USD"}, 0},
		{"below floor zeroes", favorable(0.39), 0},
		{"half band", favorable(0.45), 500},
		{"half band upper edge", favorable(0.59), 500},
		{"full band lower edge", favorable(0.6), 1000},
		{"full band", favorable(0.75), 1000},
		{"max band lower edge", favorable(0.8), 1500},
		{"max band", favorable(0.95), 1500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAllocatorFixture(t)
			granted := f.allocator.AllocateToStrategy("aggro", d(1000), tc.regime)
			assert.True(t, granted.Equal(d(tc.granted)), "want %v got %s", tc.granted, granted)
			assertBooksBalance(t, f.directional)
		})
	}
}

func TestAggressiveZeroingReleasesExisting(t *testing.T) {
	f := newAllocatorFixture(t)

	require.True(t, f.allocator.AllocateToStrategy("aggro", d(1000), favorable(0.7)).Equal(d(1000)))

	granted := f.allocator.AllocateToStrategy("aggro", d(1000), favorable(0.2))
	assert.True(t, granted.IsZero())

	acct, _ := f.accounts.Get("aggro")
	assert.True(t, acct.Allocated.IsZero())
	assert.True(t, f.directional.Metrics().Allocated.IsZero())
}

func TestBalancedProfileIgnoresRegimeScaling(t *testing.T) {
	f := newAllocatorFixture(t)

	granted := f.allocator.AllocateToStrategy("alpha", d(1000), favorable(0.95))
	assert.True(t, granted.Equal(d(1000)), "balanced profiles take the standard path")
}

func TestDrawdownLockoutBlocksEvenArbitrageMinimums(t *testing.T) {
	f := newAllocatorFixture(t)

	f.arbitrage.UpdateEquity(d(-200)) // exactly 10% down on the 2000 pool
	granted := f.allocator.AllocateToStrategy("arb", d(50), nil)
	assert.True(t, granted.IsZero())
}

func TestAllocationsAreJournaled(t *testing.T) {
	f := newAllocatorFixture(t)

	f.allocator.AllocateToStrategy("alpha", d(1000), nil)

	updates := f.journal.Filter(events.Query{Type: events.CapitalUpdate})
	require.Len(t, updates, 1)
	assert.Equal(t, "alpha", updates[0].StrategyID)
	assert.Equal(t, float64(1000), updates[0].Metadata["allocated"])
}

func TestTradePnLMovesEquityWithoutJournaling(t *testing.T) {
	f := newAllocatorFixture(t)
	f.allocator.AllocateToStrategy("alpha", d(1000), nil)
	before := f.journal.Len()

	f.allocator.ApplyTradePnL("alpha", d(-25))

	assert.True(t, f.directional.Metrics().Total.Equal(d(9975)))
	assert.Equal(t, before, f.journal.Len(), "per-trade equity moves belong to snapshots, not the event log")
}

func TestIntegrityCheckerFlagsTamperedBooks(t *testing.T) {
	f := newAllocatorFixture(t)
	f.allocator.AllocateToStrategy("alpha", d(1000), nil)

	var escalated []string
	checker := NewIntegrityChecker(
		[]*Pool{f.directional, f.arbitrage},
		f.accounts,
		f.journal,
		func(reason string) { escalated = append(escalated, reason) },
		zerolog.Nop(),
	)

	assert.Empty(t, checker.Check(), "clean books must pass")

	// Inflate the account beyond what the pool has on its books.
	f.accounts.UpdateAllocation("alpha", d(5000))
	violations := checker.Check()
	require.NotEmpty(t, violations)
	require.NotEmpty(t, escalated)

	riskEvents := f.journal.Filter(events.Query{Type: events.RiskCheck})
	require.NotEmpty(t, riskEvents)
	assert.Equal(t, "invariant-violated", riskEvents[0].Reason)
	assert.Equal(t, string(domain.CategoryIntegrityViolation), riskEvents[0].Metadata["category"])
}
