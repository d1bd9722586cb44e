package capital

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
)

// Gate is the first stage of the chain. It answers one question: does this
// strategy hold enough allocated capital to cover the intent.
type Gate struct {
	accounts *AccountManager
}

// NewGate builds the gate over the account book.
func NewGate(accounts *AccountManager) *Gate {
	return &Gate{accounts: accounts}
}

// Check denies when the strategy has no account, holds no capital, or the
// trade value exceeds its allocation.
func (g *Gate) Check(strategyID string, tradeValue decimal.Decimal) domain.Verdict {
	account, ok := g.accounts.Get(strategyID)
	if !ok {
		return domain.Deny(domain.LayerCapital, domain.CategoryCapitalDenied,
			fmt.Sprintf("no capital account for strategy %s", strategyID))
	}
	if !account.HasCapital() {
		return domain.Deny(domain.LayerCapital, domain.CategoryCapitalDenied,
			fmt.Sprintf("strategy %s holds no allocated capital", strategyID))
	}
	if tradeValue.GreaterThan(account.Allocated) {
		return domain.Deny(domain.LayerCapital, domain.CategoryCapitalDenied,
			fmt.Sprintf("trade value %s exceeds allocation %s",
				tradeValue.StringFixed(2), account.Allocated.StringFixed(2)))
	}
	return domain.Allow()
}
