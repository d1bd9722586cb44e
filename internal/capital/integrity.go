package capital

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// IntegrityChecker audits the capital books: per-pool arithmetic and the
// account-sum bound. A violation is journaled, escalated through the
// callback (critical alert plus fail-safe mode) and reported back.
type IntegrityChecker struct {
	pools       []*Pool
	accounts    *AccountManager
	journal     *events.Log
	onViolation func(reason string)
	log         zerolog.Logger
}

// NewIntegrityChecker wires the checker. onViolation may be nil.
func NewIntegrityChecker(pools []*Pool, accounts *AccountManager, journal *events.Log, onViolation func(reason string), log zerolog.Logger) *IntegrityChecker {
	return &IntegrityChecker{
		pools:       pools,
		accounts:    accounts,
		journal:     journal,
		onViolation: onViolation,
		log:         log.With().Str("component", "capital_integrity").Logger(),
	}
}

// Check audits every pool and returns the violations found, empty when the
// books are clean.
func (c *IntegrityChecker) Check() []string {
	var violations []string

	for _, pool := range c.pools {
		m := pool.Metrics()

		if !m.Available.Add(m.Allocated).Equal(m.Total) {
			violations = append(violations, fmt.Sprintf(
				"pool %s: available %s + allocated %s != total %s",
				m.Kind, m.Available, m.Allocated, m.Total))
		}
		if m.Available.LessThan(decimal.Zero) {
			violations = append(violations, fmt.Sprintf("pool %s: available %s is negative", m.Kind, m.Available))
		}
		if m.Allocated.LessThan(decimal.Zero) {
			violations = append(violations, fmt.Sprintf("pool %s: allocated %s is negative", m.Kind, m.Allocated))
		}

		accountSum := c.accounts.AllocatedTo(domain.PoolKind(m.Kind))
		if accountSum.GreaterThan(m.Allocated) {
			violations = append(violations, fmt.Sprintf(
				"pool %s: account allocations %s exceed pool allocated %s",
				m.Kind, accountSum, m.Allocated))
		}
	}

	for _, v := range violations {
		c.log.Error().Str("violation", v).Msg("Capital integrity violation")
		c.journal.Emit(events.RiskCheck, "invariant-violated", map[string]interface{}{
			"category": string(domain.CategoryIntegrityViolation),
			"detail":   v,
		})
		if c.onViolation != nil {
			c.onViolation(v)
		}
	}

	return violations
}
