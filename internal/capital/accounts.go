package capital

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
)

// Account is the per-strategy bookkeeping record tied to one pool. Values
// handed out of the manager are copies; all mutation goes through it.
type Account struct {
	StrategyID         string                `json:"strategyId"`
	PoolKind           domain.PoolKind       `json:"poolKind"`
	Allocated          decimal.Decimal       `json:"allocated"`
	PeakAllocated      decimal.Decimal       `json:"peakAllocated"`
	CurrentDrawdownPct float64               `json:"currentDrawdownPct"`
	State              domain.LifecycleState `json:"state"`
	DecayPeriods       int                   `json:"decayPeriods"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// HasCapital reports whether the account holds any allocation.
func (a Account) HasCapital() bool {
	return a.Allocated.GreaterThan(decimal.Zero)
}

// AccountManager owns the strategy-id to account mapping.
type AccountManager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	now      func() time.Time
}

// NewAccountManager builds an empty manager.
func NewAccountManager() *AccountManager {
	return &AccountManager{
		accounts: make(map[string]*Account),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source, for deterministic tests.
func (m *AccountManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create returns the existing account or makes a fresh Active one bound to
// the given pool kind.
func (m *AccountManager) Create(strategyID string, kind domain.PoolKind) Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct, ok := m.accounts[strategyID]; ok {
		return *acct
	}

	ts := m.now().UTC()
	acct := &Account{
		StrategyID: strategyID,
		PoolKind:   kind,
		State:      domain.StateActive,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	m.accounts[strategyID] = acct
	return *acct
}

// Get looks up an account by strategy id.
func (m *AccountManager) Get(strategyID string) (Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[strategyID]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// UpdateAllocation sets the account's allocation, refreshing the peak and
// the drawdown derived from it.
func (m *AccountManager) UpdateAllocation(strategyID string, allocated decimal.Decimal) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[strategyID]
	if !ok {
		return Account{}, false
	}

	acct.Allocated = allocated
	if allocated.GreaterThan(acct.PeakAllocated) {
		acct.PeakAllocated = allocated
	}
	if acct.PeakAllocated.GreaterThan(decimal.Zero) {
		dd := acct.PeakAllocated.Sub(allocated).Div(acct.PeakAllocated).Mul(decimal.NewFromInt(100))
		f, _ := dd.Float64()
		if f < 0 {
			f = 0
		}
		acct.CurrentDrawdownPct = f
	}
	acct.UpdatedAt = m.now().UTC()
	return *acct, true
}

// UpdateState transitions the lifecycle state. Entering probation resets the
// decay counter so the decay schedule starts fresh.
func (m *AccountManager) UpdateState(strategyID string, state domain.LifecycleState) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[strategyID]
	if !ok {
		return Account{}, false
	}

	if state == domain.StateProbation && acct.State != domain.StateProbation {
		acct.DecayPeriods = 0
	}
	acct.State = state
	acct.UpdatedAt = m.now().UTC()
	return *acct, true
}

// MarkDecay increments the probation decay counter.
func (m *AccountManager) MarkDecay(strategyID string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[strategyID]
	if !ok {
		return Account{}, false
	}
	acct.DecayPeriods++
	acct.UpdatedAt = m.now().UTC()
	return *acct, true
}

// StateOf returns the lifecycle state of a strategy's account.
func (m *AccountManager) StateOf(strategyID string) (domain.LifecycleState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[strategyID]
	if !ok {
		return "", false
	}
	return acct.State, true
}

// All returns copies of every account.
func (m *AccountManager) All() []Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, *acct)
	}
	return out
}

// AllocationMap returns strategy-id to allocated amount for snapshots.
func (m *AccountManager) AllocationMap() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.accounts))
	for id, acct := range m.accounts {
		out[id] = acct.Allocated
	}
	return out
}

// AllocatedTo sums allocations of accounts in the given pool.
func (m *AccountManager) AllocatedTo(kind domain.PoolKind) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, acct := range m.accounts {
		if acct.PoolKind == kind {
			sum = sum.Add(acct.Allocated)
		}
	}
	return sum
}
