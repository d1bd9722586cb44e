// Package events implements the append-only event log: the single audit
// trail every pipeline decision is journaled to. Events carry a monotonic
// id, are persisted as JSON Lines partitioned by UTC day, and can be
// mirrored to an optional message bus sink.
package events

import (
	"time"
)

// EventType is the closed set of journaled event kinds. The decoder and the
// snapshot/replay layers reject anything outside this set.
type EventType string

const (
	SignalGenerated       EventType = "SignalGenerated"
	TradeBlocked          EventType = "TradeBlocked"
	TradeExecuted         EventType = "TradeExecuted"
	RegimeDetected        EventType = "RegimeDetected"
	SystemModeChange      EventType = "SystemModeChange"
	StrategyStateChange   EventType = "StrategyStateChange"
	RiskCheck             EventType = "RiskCheck"
	ConfidenceGateBlocked EventType = "ConfidenceGateBlocked"
	CapitalUpdate         EventType = "CapitalUpdate"
)

// AllEventTypes lists every valid type, in a stable order for histograms.
var AllEventTypes = []EventType{
	SignalGenerated,
	TradeBlocked,
	TradeExecuted,
	RegimeDetected,
	SystemModeChange,
	StrategyStateChange,
	RiskCheck,
	ConfidenceGateBlocked,
	CapitalUpdate,
}

// Valid reports whether t belongs to the closed enum.
func (t EventType) Valid() bool {
	switch t {
	case SignalGenerated, TradeBlocked, TradeExecuted, RegimeDetected,
		SystemModeChange, StrategyStateChange, RiskCheck,
		ConfidenceGateBlocked, CapitalUpdate:
		return true
	}
	return false
}

// Event is one append-only audit record. The id and timestamp are stamped by
// the log at append time; everything else is caller-supplied.
type Event struct {
	ID            int64                  `json:"eventId"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          EventType              `json:"eventType"`
	StrategyID    string                 `json:"strategyId,omitempty"`
	AccountID     string                 `json:"accountId,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	BlockingLayer string                 `json:"blockingLayer,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Day returns the UTC calendar date the event belongs to.
func (e Event) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// Query filters the log. Zero fields match everything; Limit 0 means no cap.
type Query struct {
	Type       EventType
	StrategyID string
	AccountID  string
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether the event satisfies every set filter.
func (q Query) Matches(e Event) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.StrategyID != "" && e.StrategyID != q.StrategyID {
		return false
	}
	if q.AccountID != "" && e.AccountID != q.AccountID {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	return true
}
