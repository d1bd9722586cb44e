// Package validation accumulates the evidence that promotes strategies from
// shadow execution to live trading. The shadow tracker captures each decision
// with its market context, watches the market through an observation window
// and seals the record with what actually happened. Parity summaries compare
// the simulator against the observed market, the runtime tracker counts
// active validation days and the confidence gate turns all of it into the
// single allow/deny consulted before any real order.
package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/marketdata"
)

// MarketSnapshot is the top of book captured at one instant.
type MarketSnapshot struct {
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, zero when the snapshot is empty.
func (s MarketSnapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

func snapshotOf(t marketdata.Ticker) MarketSnapshot {
	return MarketSnapshot{Bid: t.Bid, Ask: t.Ask, Last: t.Last, Timestamp: t.Timestamp}
}

// FillSummary is the simulated fill carried by a shadow record. Success false
// means the simulator rejected the order after the gates had passed it.
type FillSummary struct {
	Success   bool            `json:"success"`
	OrderID   string          `json:"orderId,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fees      decimal.Decimal `json:"fees"`
	Slippage  decimal.Decimal `json:"slippage"`
	Partial   bool            `json:"partial"`
	LatencyMs int64           `json:"latencyMs"`
}

// ShadowRecord is one hypothetical execution with its market context at the
// decision and at the end of the observation window. Records are append-only
// and idempotent by (decision timestamp, strategy, symbol).
type ShadowRecord struct {
	DecisionTS       time.Time            `json:"decisionTs"`
	StrategyID       string               `json:"strategyId"`
	Symbol           string               `json:"symbol"`
	Side             domain.Side          `json:"side"`
	Quantity         decimal.Decimal      `json:"quantity"`
	LimitPrice       *decimal.Decimal     `json:"limitPrice,omitempty"`
	AtDecision       MarketSnapshot       `json:"atDecision"`
	AtWindowEnd      MarketSnapshot       `json:"atWindowEnd"`
	Fill             FillSummary          `json:"fill"`
	HypotheticalPnL  decimal.Decimal      `json:"hypotheticalPnl"`
	Regime           domain.RegimeVerdict `json:"regimeAtDecision"`
	ObservedFillable bool                 `json:"observedFillable"`
	Finalized        bool                 `json:"finalized"`
}

// Key is the idempotency key records are stored and deduplicated by.
func (r ShadowRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.DecisionTS.UTC().Format(time.RFC3339Nano), r.StrategyID, r.Symbol)
}

// hypotheticalPnL marks the fill to the window-end price. A record without a
// successful fill has nothing at stake and books zero.
func hypotheticalPnL(r ShadowRecord) decimal.Decimal {
	if !r.Fill.Success {
		return decimal.Zero
	}
	end := decimal.NewFromFloat(r.AtWindowEnd.Last)
	if end.IsZero() {
		return r.Fill.Fees.Neg()
	}
	move := end.Sub(r.Fill.Price)
	if r.Side == domain.SideSell {
		move = move.Neg()
	}
	return move.Mul(r.Fill.Quantity).Sub(r.Fill.Fees)
}
