// Package domain holds the core types shared across the governance pipeline:
// trade intents and outcomes, gate verdicts, regime classification, system and
// execution modes, strategy metadata and error categories.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade intent
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the reversing direction, used when unwinding a filled leg.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeIntent is a strategy's request to trade. Immutable once emitted;
// everything downstream (gates, adapters, events) treats it as read-only.
type TradeIntent struct {
	ID             string           `json:"id"`
	StrategyID     string           `json:"strategyId"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	EstimatedValue decimal.Decimal  `json:"estimatedValue"` // quote units
	Timestamp      time.Time        `json:"timestamp"`
}

// NewIntent builds a market intent with a fresh id.
func NewIntent(strategyID, symbol string, side Side, qty, estimatedValue decimal.Decimal, ts time.Time) TradeIntent {
	return TradeIntent{
		ID:             uuid.NewString(),
		StrategyID:     strategyID,
		Symbol:         symbol,
		Side:           side,
		Quantity:       qty,
		EstimatedValue: estimatedValue,
		Timestamp:      ts.UTC(),
	}
}

// NewLimitIntent builds a limit intent with a fresh id.
func NewLimitIntent(strategyID, symbol string, side Side, qty, limitPrice decimal.Decimal, ts time.Time) TradeIntent {
	i := NewIntent(strategyID, symbol, side, qty, qty.Mul(limitPrice), ts)
	i.LimitPrice = &limitPrice
	return i
}

// Validate rejects malformed intents before any gate runs.
func (i TradeIntent) Validate() error {
	switch {
	case i.StrategyID == "":
		return NewInputError("intent has no strategy id")
	case i.Symbol == "":
		return NewInputError("intent has no symbol")
	case i.Side != SideBuy && i.Side != SideSell:
		return NewInputError(fmt.Sprintf("invalid side %q", i.Side))
	case i.Quantity.LessThanOrEqual(decimal.Zero):
		return NewInputError("quantity must be positive")
	case i.EstimatedValue.LessThan(decimal.Zero):
		return NewInputError("estimated value must not be negative")
	case i.LimitPrice != nil && i.LimitPrice.LessThanOrEqual(decimal.Zero):
		return NewInputError("limit price must be positive")
	}
	return nil
}
