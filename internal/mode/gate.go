package mode

import (
	"fmt"

	"github.com/wardenlabs/warden/internal/domain"
)

// AccountStates is the narrow view of the account manager the gate needs.
type AccountStates interface {
	StateOf(strategyID string) (domain.LifecycleState, bool)
}

// PermissionGate decides whether the system posture permits an intent.
// Simulation and shadow traffic always passes; real execution requires
// aggressive mode and an Active account for the strategy.
type PermissionGate struct {
	controller *Controller
	accounts   AccountStates
}

// NewPermissionGate wires the gate.
func NewPermissionGate(controller *Controller, accounts AccountStates) *PermissionGate {
	return &PermissionGate{controller: controller, accounts: accounts}
}

// Check returns the gate verdict for one intent headed to the given path.
func (g *PermissionGate) Check(intent domain.TradeIntent, target domain.ExecutionMode) domain.Verdict {
	if target != domain.ExecutionReal {
		return domain.Allow()
	}

	if g.controller.Current() == domain.ModeObserveOnly {
		return domain.Deny(domain.LayerPermission, domain.CategoryPermissionDenied,
			"system is observe-only, real execution disabled")
	}

	state, ok := g.accounts.StateOf(intent.StrategyID)
	if !ok {
		return domain.Deny(domain.LayerPermission, domain.CategoryPermissionDenied,
			fmt.Sprintf("strategy %s has no account", intent.StrategyID))
	}
	if state != domain.StateActive {
		return domain.Deny(domain.LayerPermission, domain.CategoryPermissionDenied,
			fmt.Sprintf("strategy %s is %s, real execution requires active", intent.StrategyID, state))
	}

	return domain.Allow()
}
