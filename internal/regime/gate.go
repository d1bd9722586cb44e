package regime

import (
	"context"
	"fmt"

	"github.com/wardenlabs/warden/internal/domain"
)

// Source yields the current regime verdict for a symbol.
type Source interface {
	CurrentRegime(ctx context.Context, symbol string) domain.RegimeVerdict
}

// Gate blocks intents from regime-dependent strategies unless the market is
// favorable with sufficient confidence. Strategies that declare themselves
// regime-independent pass through untouched.
type Gate struct {
	source        Source
	registry      *domain.StrategyRegistry
	minConfidence float64
}

// NewGate builds the gate with the minimum confidence threshold.
func NewGate(source Source, registry *domain.StrategyRegistry, minConfidence float64) *Gate {
	return &Gate{source: source, registry: registry, minConfidence: minConfidence}
}

// Check evaluates the intent against the current regime.
func (g *Gate) Check(ctx context.Context, intent domain.TradeIntent) domain.Verdict {
	strategy, ok := g.registry.Get(intent.StrategyID)
	if !ok {
		return domain.Deny(domain.LayerRegime, domain.CategoryRegimeDenied,
			fmt.Sprintf("strategy %s is not registered", intent.StrategyID))
	}
	if !strategy.RegimeDependent {
		return domain.Allow()
	}

	verdict := g.source.CurrentRegime(ctx, intent.Symbol)
	if verdict.Regime != domain.RegimeFavorable {
		return domain.Deny(domain.LayerRegime, domain.CategoryRegimeDenied,
			fmt.Sprintf("regime for %s is %s", intent.Symbol, verdict.Regime))
	}
	if verdict.Confidence < g.minConfidence {
		return domain.Deny(domain.LayerRegime, domain.CategoryRegimeDenied,
			fmt.Sprintf("regime confidence %.2f below minimum %.2f", verdict.Confidence, g.minConfidence))
	}
	return domain.Allow()
}
