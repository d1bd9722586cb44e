package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/marketdata"
)

// CapitalGate answers whether a strategy's allocation covers the trade.
type CapitalGate interface {
	Check(strategyID string, tradeValue decimal.Decimal) domain.Verdict
}

// RegimeGate blocks regime-dependent strategies in hostile markets.
type RegimeGate interface {
	Check(ctx context.Context, intent domain.TradeIntent) domain.Verdict
}

// PermissionGate enforces the system mode against the targeted execution
// mode.
type PermissionGate interface {
	Check(intent domain.TradeIntent, target domain.ExecutionMode) domain.Verdict
}

// RiskGovernor is the final limit check plus the day-book recorder.
type RiskGovernor interface {
	Check(ctx context.Context, intent domain.TradeIntent) domain.Verdict
	RecordFill(strategyID string, pnl decimal.Decimal)
}

// ConfidenceGate is consulted before any real adapter call.
type ConfidenceGate interface {
	Allow(ctx context.Context) domain.Verdict
}

// RegimeSource yields the verdict attached to shadow records.
type RegimeSource interface {
	CurrentRegime(ctx context.Context, symbol string) domain.RegimeVerdict
}

// ShadowRecorder receives the decision-time record for parity tracking.
// Shadow mode hands over every post-gate terminal outcome, failed fills
// included, so fill rates stay honest.
type ShadowRecorder interface {
	Track(intent domain.TradeIntent, outcome domain.TradeOutcome, decision marketdata.Ticker, regime domain.RegimeVerdict)
}

// RuntimeRecorder accumulates validation runtime across execution types.
type RuntimeRecorder interface {
	RecordExecution(t domain.ExecutionType, at time.Time)
}

// PnLSink books realized trade costs onto the capital pools.
type PnLSink interface {
	ApplyTradePnL(strategyID string, pnl decimal.Decimal)
}

// ManagerConfig fixes the process execution mode and the per-intent budget.
type ManagerConfig struct {
	Mode           domain.ExecutionMode
	IntentDeadline time.Duration
}

// Deps collects the manager's collaborators. Real, Shadow and Runtime are
// optional; everything else must be wired.
type Deps struct {
	Capital    CapitalGate
	Regime     RegimeGate
	Permission PermissionGate
	Risk       RiskGovernor
	Confidence ConfidenceGate
	Regimes    RegimeSource
	Market     marketdata.Service
	PnL        PnLSink
	Shadow     ShadowRecorder
	Runtime    RuntimeRecorder
	Real       VenueAdapter
	Simulated  VenueAdapter
	Journal    *events.Log
}

// Manager is the one funnel from intent to adapter. It runs the gate chain
// in fixed order, dispatches on the execution mode and journals exactly one
// terminal event per intent.
type Manager struct {
	cfg  ManagerConfig
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// NewManager wires the funnel.
func NewManager(cfg ManagerConfig, deps Deps, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "execution_manager").Logger(),
		now:  time.Now,
	}
}

// SetClock overrides the latency clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Mode reports the configured execution mode.
func (m *Manager) Mode() domain.ExecutionMode { return m.cfg.Mode }

// Execute runs one intent through gates and adapter and returns its outcome.
// It never panics outward and never raises denials as errors.
func (m *Manager) Execute(ctx context.Context, intent domain.TradeIntent) domain.TradeOutcome {
	started := m.now()
	mode := m.cfg.Mode
	execType := mode.Type()

	if mode == domain.ExecutionUnset {
		m.deps.Journal.EmitFor(events.RiskCheck, intent.StrategyID, intent.StrategyID,
			"invariant-violated", map[string]interface{}{
				"detail":   "execution mode not initialized",
				"intentId": intent.ID,
			})
		return m.terminalBlocked(intent, domain.Deny("", domain.CategoryIntegrityViolation,
			"execution mode not initialized"), execType, started)
	}

	if err := intent.Validate(); err != nil {
		return m.terminalBlocked(intent, domain.Deny("", domain.CategoryInputInvalid, err.Error()),
			execType, started)
	}

	if m.cfg.IntentDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.IntentDeadline)
		defer cancel()
	}

	if v := m.deps.Capital.Check(intent.StrategyID, intent.EstimatedValue); !v.Allowed {
		return m.terminalBlocked(intent, v, execType, started)
	}
	if v := m.deps.Regime.Check(ctx, intent); !v.Allowed {
		return m.terminalBlocked(intent, v, execType, started)
	}
	if v := m.deps.Permission.Check(intent, mode); !v.Allowed {
		return m.terminalBlocked(intent, v, execType, started)
	}
	if v := m.deps.Risk.Check(ctx, intent); !v.Allowed {
		return m.terminalBlocked(intent, v, execType, started)
	}

	adapter := m.deps.Simulated
	if mode == domain.ExecutionReal {
		if m.deps.Confidence == nil {
			return m.terminalBlocked(intent, domain.Deny(domain.LayerConfidence, domain.CategoryConfidenceGate,
				"no confidence gate configured"), execType, started)
		}
		if v := m.deps.Confidence.Allow(ctx); !v.Allowed {
			m.deps.Journal.EmitFor(events.ConfidenceGateBlocked, intent.StrategyID, intent.StrategyID,
				v.Reason, map[string]interface{}{"intentId": intent.ID})
			return m.terminalBlocked(intent, v, execType, started)
		}
		if m.deps.Real == nil {
			return m.terminalBlocked(intent, domain.Deny("", domain.CategoryAdapterPermanent,
				"no venue adapter configured"), execType, started)
		}
		adapter = m.deps.Real
	}

	var decision marketdata.Ticker
	if mode == domain.ExecutionShadow && m.deps.Shadow != nil {
		decision, _ = m.deps.Market.Ticker(ctx, intent.Symbol)
	}

	fill, err := adapter.AddOrder(ctx, requestFromIntent(intent))
	latency := m.now().Sub(started)
	if err != nil {
		category := domain.CategoryOf(err)
		if ctx.Err() != nil && category != domain.CategoryTimeout {
			category = domain.CategoryTimeout
		}
		outcome := m.terminalBlocked(intent, domain.Deny("", category, err.Error()), execType, started)
		if mode == domain.ExecutionShadow && m.deps.Shadow != nil {
			m.deps.Shadow.Track(intent, outcome, decision, m.regimeFor(ctx, intent.Symbol, started))
		}
		return outcome
	}

	outcome := domain.TradeOutcome{
		Success:       true,
		OrderID:       fill.OrderID,
		ExecutedPrice: fill.Price,
		ExecutedQty:   fill.Quantity,
		Fees:          fill.Fees,
		Slippage:      fill.Slippage,
		Partial:       fill.Partial,
		ExecutionType: execType,
		Latency:       latency,
	}

	pnl := fill.Fees.Neg()
	m.deps.PnL.ApplyTradePnL(intent.StrategyID, pnl)
	m.deps.Risk.RecordFill(intent.StrategyID, pnl)
	if m.deps.Runtime != nil {
		m.deps.Runtime.RecordExecution(execType, started)
	}

	if mode == domain.ExecutionShadow && m.deps.Shadow != nil {
		m.deps.Shadow.Track(intent, outcome, decision, m.regimeFor(ctx, intent.Symbol, started))
	}

	m.deps.Journal.Append(events.Event{
		Type:       events.TradeExecuted,
		StrategyID: intent.StrategyID,
		AccountID:  intent.StrategyID,
		Reason:     "order executed",
		Metadata: map[string]interface{}{
			"intentId":      intent.ID,
			"orderId":       fill.OrderID,
			"symbol":        intent.Symbol,
			"side":          string(intent.Side),
			"executedPrice": fill.Price.InexactFloat64(),
			"executedQty":   fill.Quantity.InexactFloat64(),
			"fees":          fill.Fees.InexactFloat64(),
			"realizedPnl":   pnl.InexactFloat64(),
			"slippage":      fill.Slippage.InexactFloat64(),
			"partial":       fill.Partial,
			"maker":         fill.Maker,
			"executionType": string(execType),
			"latencyMs":     latency.Milliseconds(),
		},
	})

	m.log.Info().
		Str("intentId", intent.ID).
		Str("strategy", intent.StrategyID).
		Str("orderId", fill.OrderID).
		Str("executionType", string(execType)).
		Msg("Trade executed")

	return outcome
}

// regimeFor resolves the verdict attached to shadow records, falling back
// to an unknown classification when no detector is wired.
func (m *Manager) regimeFor(ctx context.Context, symbol string, at time.Time) domain.RegimeVerdict {
	if m.deps.Regimes == nil {
		return domain.UnknownRegime(symbol, at)
	}
	return m.deps.Regimes.CurrentRegime(ctx, symbol)
}

// terminalBlocked writes the single TradeBlocked terminal event and shapes
// the outcome. An empty layer means the denial came from validation or the
// adapter rather than a gate.
func (m *Manager) terminalBlocked(intent domain.TradeIntent, verdict domain.Verdict, execType domain.ExecutionType, started time.Time) domain.TradeOutcome {
	var outcome domain.TradeOutcome
	if verdict.Layer != "" {
		outcome = domain.BlockedOutcome(verdict.Layer, verdict.Category, verdict.Reason)
	} else {
		outcome = domain.FailedOutcome(verdict.Category, verdict.Reason)
	}
	outcome.ExecutionType = execType
	outcome.Latency = m.now().Sub(started)

	m.deps.Journal.Append(events.Event{
		Type:          events.TradeBlocked,
		StrategyID:    intent.StrategyID,
		AccountID:     intent.StrategyID,
		Reason:        verdict.Reason,
		BlockingLayer: string(verdict.Layer),
		Metadata: map[string]interface{}{
			"intentId":      intent.ID,
			"symbol":        intent.Symbol,
			"category":      string(verdict.Category),
			"executionType": string(execType),
		},
	})

	m.log.Warn().
		Str("intentId", intent.ID).
		Str("strategy", intent.StrategyID).
		Str("layer", string(verdict.Layer)).
		Str("category", string(verdict.Category)).
		Str("reason", verdict.Reason).
		Msg("Trade blocked")

	return outcome
}
