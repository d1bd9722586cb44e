package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOutcome is the terminal result of processing one intent. Real,
// simulated and shadow paths all produce this same shape.
type TradeOutcome struct {
	Success       bool            `json:"success"`
	OrderID       string          `json:"orderId,omitempty"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Fees          decimal.Decimal `json:"fees"`
	Slippage      decimal.Decimal `json:"slippage"`
	Partial       bool            `json:"partial"`
	Error         *string         `json:"error,omitempty"`

	// Annotations stamped by the execution manager, not by adapters.
	Blocked       bool          `json:"blocked,omitempty"`
	BlockingLayer GateLayer     `json:"blockingLayer,omitempty"`
	Category      ErrorCategory `json:"category,omitempty"`
	ExecutionType ExecutionType `json:"executionType,omitempty"`
	Latency       time.Duration `json:"-"`
}

// BlockedOutcome builds the failure outcome for a gate denial.
func BlockedOutcome(layer GateLayer, category ErrorCategory, reason string) TradeOutcome {
	return TradeOutcome{
		Blocked:       true,
		BlockingLayer: layer,
		Category:      category,
		Error:         strPtr(reason),
	}
}

// FailedOutcome builds the failure outcome for an adapter fault.
func FailedOutcome(category ErrorCategory, reason string) TradeOutcome {
	return TradeOutcome{
		Category: category,
		Error:    strPtr(reason),
	}
}

// ErrorText returns the error message or "" when none is set.
func (o TradeOutcome) ErrorText() string {
	if o.Error == nil {
		return ""
	}
	return *o.Error
}

func strPtr(s string) *string { return &s }
