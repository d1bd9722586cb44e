// Package arbitrage runs multi-leg signals through the execution manager with
// atomic-intent semantics: legs execute in priority order, a failed or
// out-of-tolerance leg after a fill forces neutralization of every filled leg,
// and a failed neutralization escalates to a critical alert. The executor never
// talks to an adapter directly; every leg and every unwind is a plain trade
// intent pushed through the full gate chain.
package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// Status is the terminal state of one arbitrage signal.
type Status string

const (
	// StatusCompleted means every leg filled within tolerances.
	StatusCompleted Status = "completed"
	// StatusAborted means execution stopped before anything filled.
	StatusAborted Status = "aborted"
	// StatusNeutralized means filled legs were unwound after a failure.
	StatusNeutralized Status = "neutralized"
	// StatusNeutralizationFailed means at least one unwind intent did not fill.
	StatusNeutralizationFailed Status = "neutralization_failed"
	// StatusExposed means an unwind was required but neutralization is disabled.
	StatusExposed Status = "exposed"
)

// Leg is one side of an opportunity. Priority orders execution; the
// priority-1 leg anchors atomicity.
type Leg struct {
	Priority       int              `json:"priority"`
	Symbol         string           `json:"symbol"`
	Side           domain.Side      `json:"side"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	EstimatedValue decimal.Decimal  `json:"estimatedValue"` // quote units; derived from the limit price when one is set
}

// Signal is a detected opportunity handed to the executor.
type Signal struct {
	ID              string              `json:"id"`
	StrategyID      string              `json:"strategyId"`
	Type            domain.StrategyType `json:"type"`
	Symbol          string              `json:"symbol"`
	ExpectedEdgePct float64             `json:"expectedEdgePct"`
	Legs            []Leg               `json:"legs"`
	Timestamp       time.Time           `json:"timestamp"`
}

// NewSignal builds a signal with a fresh id.
func NewSignal(strategyID string, typ domain.StrategyType, symbol string, edgePct float64, legs []Leg, ts time.Time) Signal {
	return Signal{
		ID:              uuid.NewString(),
		StrategyID:      strategyID,
		Type:            typ,
		Symbol:          symbol,
		ExpectedEdgePct: edgePct,
		Legs:            legs,
		Timestamp:       ts.UTC(),
	}
}

// Validate rejects malformed signals before any leg runs.
func (s Signal) Validate() error {
	switch {
	case s.StrategyID == "":
		return domain.NewInputError("signal has no strategy id")
	case !s.Type.IsArbitrage():
		return domain.NewInputError(fmt.Sprintf("strategy type %q is not an arbitrage type", s.Type))
	case len(s.Legs) == 0:
		return domain.NewInputError("signal has no legs")
	}
	for _, leg := range s.Legs {
		if leg.Symbol == "" {
			return domain.NewInputError(fmt.Sprintf("leg %d has no symbol", leg.Priority))
		}
		if leg.Quantity.LessThanOrEqual(decimal.Zero) {
			return domain.NewInputError(fmt.Sprintf("leg %d quantity must be positive", leg.Priority))
		}
	}
	return nil
}

// LegResult records one intent pushed through the chain for this signal,
// forward or unwind.
type LegResult struct {
	Leg         Leg                 `json:"leg"`
	IntentID    string              `json:"intentId"`
	Outcome     domain.TradeOutcome `json:"outcome"`
	Success     bool                `json:"success"`
	SlippagePct float64             `json:"slippagePct"`
	LatencyMs   int64               `json:"latencyMs"`
}

// Result is the terminal report for one signal.
type Result struct {
	SignalID               string      `json:"signalId"`
	Status                 Status      `json:"status"`
	Legs                   []LegResult `json:"legs"`
	RequiresNeutralization bool        `json:"requiresNeutralization"`
	Neutralization         []LegResult `json:"neutralization,omitempty"`
	Error                  string      `json:"error,omitempty"`
}

func (r Result) filledLegs() []LegResult {
	var filled []LegResult
	for _, lr := range r.Legs {
		if lr.Success {
			filled = append(filled, lr)
		}
	}
	return filled
}

// IntentExecutor runs one intent through the full gate chain. Satisfied by
// *execution.Manager.
type IntentExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) domain.TradeOutcome
}

// Alerter escalates failures that demand immediate operator attention.
// Satisfied by the health package's alert manager.
type Alerter interface {
	Critical(kind, reason string, meta map[string]interface{})
}

// Config tunes atomicity and the unwind policy.
type Config struct {
	Atomic            bool          // abort the signal when the priority-1 leg fails
	Neutralize        bool          // unwind filled legs after a failure or tolerance breach
	MaxSlippagePct    float64       // fill distance from the touch that forces an unwind
	MaxExecutionDelay time.Duration // per-leg latency that forces an unwind
}

// DefaultConfig matches production policy: atomic, neutralizing, 1% slippage
// tolerance, 5s latency tolerance.
func DefaultConfig() Config {
	return Config{
		Atomic:            true,
		Neutralize:        true,
		MaxSlippagePct:    1,
		MaxExecutionDelay: 5 * time.Second,
	}
}

// Executor coordinates multi-leg execution over the single-intent manager.
type Executor struct {
	manager IntentExecutor
	journal *events.Log
	alerts  Alerter
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// NewExecutor wires the executor. alerts may be nil when no alert manager is
// configured; neutralization failures are then only logged and journaled.
func NewExecutor(manager IntentExecutor, journal *events.Log, alerts Alerter, cfg Config, log zerolog.Logger) *Executor {
	if cfg.MaxSlippagePct <= 0 {
		cfg.MaxSlippagePct = 1
	}
	if cfg.MaxExecutionDelay <= 0 {
		cfg.MaxExecutionDelay = 5 * time.Second
	}
	return &Executor{
		manager: manager,
		journal: journal,
		alerts:  alerts,
		cfg:     cfg,
		log:     log.With().Str("component", "arbitrage").Logger(),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (x *Executor) SetClock(now func() time.Time) { x.now = now }

// Execute runs the signal's legs in priority order and settles the outcome.
// One forward pass, at most one neutralization pass, never a retry.
func (x *Executor) Execute(ctx context.Context, sig Signal) Result {
	res := Result{SignalID: sig.ID, Status: StatusCompleted}

	if err := sig.Validate(); err != nil {
		res.Status = StatusAborted
		res.Error = err.Error()
		x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
			"arbitrage signal rejected", map[string]interface{}{
				"signalId": sig.ID,
				"detail":   err.Error(),
			})
		x.log.Warn().Str("signal", sig.ID).Err(err).Msg("Arbitrage signal rejected")
		return res
	}

	legs := append([]Leg(nil), sig.Legs...)
	sort.Slice(legs, func(i, j int) bool { return legs[i].Priority < legs[j].Priority })

	x.journal.EmitFor(events.SignalGenerated, sig.StrategyID, sig.StrategyID,
		"arbitrage signal accepted", map[string]interface{}{
			"signalId":        sig.ID,
			"arbitrageType":   string(sig.Type),
			"symbol":          sig.Symbol,
			"legs":            len(legs),
			"expectedEdgePct": sig.ExpectedEdgePct,
		})

	var cause string
	for i, leg := range legs {
		lr := x.runLeg(ctx, sig, leg)
		res.Legs = append(res.Legs, lr)

		if !lr.Success {
			if x.cfg.Atomic && i == 0 {
				return x.abort(sig, res, leg.Priority, lr.Outcome)
			}
			if x.cfg.Atomic {
				cause = fmt.Sprintf("leg %d failed: %s", leg.Priority, lr.Outcome.ErrorText())
				break
			}
			continue
		}

		if b := x.tolerance(lr); b != "" && cause == "" {
			cause = b
			if x.cfg.Atomic {
				break
			}
		}
	}

	filled := res.filledLegs()
	if cause == "" && len(filled) > 0 && len(filled) < len(res.Legs) {
		cause = "not every leg filled"
	}

	if cause == "" {
		if len(filled) == 0 {
			res.Status = StatusAborted
			res.Error = "no leg filled"
			x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
				"arbitrage aborted", map[string]interface{}{
					"signalId": sig.ID,
					"detail":   res.Error,
				})
			return res
		}
		x.log.Info().
			Str("signal", sig.ID).
			Str("strategy", sig.StrategyID).
			Int("legs", len(filled)).
			Float64("expectedEdgePct", sig.ExpectedEdgePct).
			Msg("Arbitrage signal completed")
		return res
	}

	res.RequiresNeutralization = true

	if !x.cfg.Neutralize {
		res.Status = StatusExposed
		res.Error = cause
		x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
			"arbitrage exposure left open", map[string]interface{}{
				"signalId": sig.ID,
				"cause":    cause,
				"openLegs": len(filled),
			})
		x.log.Warn().
			Str("signal", sig.ID).
			Str("cause", cause).
			Int("openLegs", len(filled)).
			Msg("Arbitrage incomplete and neutralization disabled")
		return res
	}

	unwind, ok := x.neutralize(ctx, sig, filled, cause)
	res.Neutralization = unwind
	if ok {
		res.Status = StatusNeutralized
		x.log.Info().
			Str("signal", sig.ID).
			Str("cause", cause).
			Int("unwoundLegs", len(unwind)).
			Msg("Arbitrage neutralized")
		return res
	}

	res.Status = StatusNeutralizationFailed
	res.Error = cause
	x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
		"arbitrage neutralization failed", map[string]interface{}{
			"signalId": sig.ID,
			"cause":    cause,
		})
	if x.alerts != nil {
		x.alerts.Critical("neutralization_failure", "arbitrage neutralization failed", map[string]interface{}{
			"signalId":   sig.ID,
			"strategyId": sig.StrategyID,
			"symbol":     sig.Symbol,
			"cause":      cause,
		})
	}
	x.log.Error().
		Str("signal", sig.ID).
		Str("strategy", sig.StrategyID).
		Str("cause", cause).
		Msg("Arbitrage neutralization failed, position may be one-sided")
	return res
}

func (x *Executor) abort(sig Signal, res Result, priority int, out domain.TradeOutcome) Result {
	res.Status = StatusAborted
	res.Error = out.ErrorText()
	x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
		"arbitrage aborted", map[string]interface{}{
			"signalId":       sig.ID,
			"failedPriority": priority,
			"category":       string(out.Category),
		})
	x.log.Warn().
		Str("signal", sig.ID).
		Int("failedPriority", priority).
		Str("category", string(out.Category)).
		Msg("Arbitrage aborted on anchor leg")
	return res
}

// runLeg converts one leg to an intent and pushes it through the full chain.
func (x *Executor) runLeg(ctx context.Context, sig Signal, leg Leg) LegResult {
	var intent domain.TradeIntent
	if leg.LimitPrice != nil {
		intent = domain.NewLimitIntent(sig.StrategyID, leg.Symbol, leg.Side, leg.Quantity, *leg.LimitPrice, x.now())
	} else {
		intent = domain.NewIntent(sig.StrategyID, leg.Symbol, leg.Side, leg.Quantity, leg.EstimatedValue, x.now())
	}

	out := x.manager.Execute(ctx, intent)
	lr := LegResult{
		Leg:       leg,
		IntentID:  intent.ID,
		Outcome:   out,
		Success:   out.Success,
		LatencyMs: out.Latency.Milliseconds(),
	}
	if out.Success {
		lr.SlippagePct = slippagePct(out)
	}

	x.log.Debug().
		Str("signal", sig.ID).
		Int("priority", leg.Priority).
		Str("symbol", leg.Symbol).
		Str("side", string(leg.Side)).
		Bool("success", out.Success).
		Float64("slippagePct", lr.SlippagePct).
		Int64("latencyMs", lr.LatencyMs).
		Msg("Arbitrage leg settled")
	return lr
}

// neutralize submits one opposite-side intent per filled leg, sized to the
// actual fill. Single pass.
func (x *Executor) neutralize(ctx context.Context, sig Signal, filled []LegResult, cause string) ([]LegResult, bool) {
	x.journal.EmitFor(events.RiskCheck, sig.StrategyID, sig.StrategyID,
		"arbitrage neutralization attempted", map[string]interface{}{
			"signalId": sig.ID,
			"cause":    cause,
			"legs":     len(filled),
		})

	ok := true
	results := make([]LegResult, 0, len(filled))
	for _, lr := range filled {
		qty := lr.Outcome.ExecutedQty
		value := qty.Mul(lr.Outcome.ExecutedPrice)
		intent := domain.NewIntent(sig.StrategyID, lr.Leg.Symbol, lr.Leg.Side.Opposite(), qty, value, x.now())

		out := x.manager.Execute(ctx, intent)
		nr := LegResult{
			Leg: Leg{
				Priority:       lr.Leg.Priority,
				Symbol:         lr.Leg.Symbol,
				Side:           lr.Leg.Side.Opposite(),
				Quantity:       qty,
				EstimatedValue: value,
			},
			IntentID:  intent.ID,
			Outcome:   out,
			Success:   out.Success,
			LatencyMs: out.Latency.Milliseconds(),
		}
		if out.Success {
			nr.SlippagePct = slippagePct(out)
		} else {
			ok = false
		}
		results = append(results, nr)
	}
	return results, ok
}

// tolerance reports why a filled leg still forces an unwind, or "".
func (x *Executor) tolerance(lr LegResult) string {
	if lr.SlippagePct > x.cfg.MaxSlippagePct {
		return fmt.Sprintf("leg %d slippage %.4f%% above limit %.4f%%", lr.Leg.Priority, lr.SlippagePct, x.cfg.MaxSlippagePct)
	}
	if lr.Outcome.Latency > x.cfg.MaxExecutionDelay {
		return fmt.Sprintf("leg %d latency %dms above limit %dms", lr.Leg.Priority, lr.Outcome.Latency.Milliseconds(), x.cfg.MaxExecutionDelay.Milliseconds())
	}
	return ""
}

// slippagePct measures the fill distance from the touch the fill was priced
// against, as a percentage of that touch.
func slippagePct(o domain.TradeOutcome) float64 {
	ref := o.ExecutedPrice.Sub(o.Slippage)
	if ref.LessThanOrEqual(decimal.Zero) {
		ref = o.ExecutedPrice
	}
	if ref.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	pct, _ := o.Slippage.Abs().Div(ref).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
