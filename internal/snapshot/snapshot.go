// Package snapshot folds each UTC day's events and capital state into an
// immutable daily record, persists sealed records in the ledger database, and
// replays the event stream to validate them. Sealing is deterministic: the
// same event log and inputs always produce the same bytes, so a regenerated
// day can be compared checksum for checksum.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// PoolSummary captures one pool's end-of-day capital state.
type PoolSummary struct {
	Equity      decimal.Decimal `json:"equity"`
	Allocated   decimal.Decimal `json:"allocated"`
	Available   decimal.Decimal `json:"available"`
	PeakEquity  decimal.Decimal `json:"peakEquity"`
	DrawdownPct float64         `json:"drawdownPct"`
}

// Snapshot is the daily record, one per UTC calendar day. encoding/json
// orders struct fields by declaration and map keys lexicographically, so the
// serialized form is canonical.
type Snapshot struct {
	Date               string                     `json:"date"`
	SystemMode         string                     `json:"systemMode"`
	RiskState          string                     `json:"riskState"`
	TotalEquity        decimal.Decimal            `json:"totalEquity"`
	Pools              map[string]PoolSummary     `json:"pools"`
	StrategyPnL        map[string]decimal.Decimal `json:"strategyPnl"`
	StrategyDrawdown   map[string]float64         `json:"strategyDrawdownPct"`
	Allocations        map[string]decimal.Decimal `json:"allocations"`
	RegimeDistribution map[string]int             `json:"regimeDistribution"`
	TradesAttempted    int                        `json:"tradesAttempted"`
	TradesExecuted     int                        `json:"tradesExecuted"`
	TradesBlocked      int                        `json:"tradesBlocked"`
	BlockReasons       map[string]int             `json:"blockReasons"`
	EventHistogram     map[string]int             `json:"eventHistogram"`
	EventCount         int                        `json:"eventCount"`
}

// Sealed pairs a snapshot with its canonical serialization. The payload is
// written once; the checksum lets the store, replay and backups verify it.
type Sealed struct {
	Snapshot Snapshot
	Payload  []byte
	Checksum string
}

// Inputs carries the capital-side state the event stream cannot supply.
type Inputs struct {
	Date             string // "2006-01-02", UTC
	Directional      capital.PoolMetrics
	Arbitrage        capital.PoolMetrics
	StrategyPnL      map[string]decimal.Decimal
	StrategyDrawdown map[string]float64
	Allocations      map[string]decimal.Decimal
}

// Generator folds days into sealed snapshots.
type Generator struct {
	journal *events.Log
	log     zerolog.Logger
}

// NewGenerator wires the generator to the journal it folds.
func NewGenerator(journal *events.Log, log zerolog.Logger) *Generator {
	return &Generator{
		journal: journal,
		log:     log.With().Str("component", "snapshot").Logger(),
	}
}

// Generate folds the day's events with the supplied capital state and seals
// the record. It reads the journal and nothing else; no wall clock is
// consulted, so regenerating an unchanged day reproduces the exact payload.
func (g *Generator) Generate(in Inputs) (Sealed, error) {
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return Sealed{}, domain.NewInputError(fmt.Sprintf("invalid snapshot date %q", in.Date))
	}

	dayEvents := g.journal.ForDay(in.Date)

	snap := Snapshot{
		Date:        in.Date,
		TotalEquity: in.Directional.Total.Add(in.Arbitrage.Total),
		Pools: map[string]PoolSummary{
			string(domain.PoolDirectional): poolSummary(in.Directional),
			string(domain.PoolArbitrage):   poolSummary(in.Arbitrage),
		},
		StrategyPnL:        copyDecimals(in.StrategyPnL),
		StrategyDrawdown:   copyFloats(in.StrategyDrawdown),
		Allocations:        copyDecimals(in.Allocations),
		RegimeDistribution: make(map[string]int),
		BlockReasons:       make(map[string]int),
		EventHistogram:     make(map[string]int),
		EventCount:         len(dayEvents),
	}

	for _, evt := range dayEvents {
		snap.EventHistogram[string(evt.Type)]++
		switch evt.Type {
		case events.TradeExecuted:
			snap.TradesExecuted++
		case events.TradeBlocked:
			reason := metaString(evt.Metadata, "category")
			if reason == "" {
				reason = "unknown"
			}
			snap.TradesBlocked++
			snap.BlockReasons[reason]++
		case events.RegimeDetected:
			if r := metaString(evt.Metadata, "regime"); r != "" {
				snap.RegimeDistribution[r]++
			}
		}
	}
	snap.TradesAttempted = snap.TradesExecuted + snap.TradesBlocked

	// Mode and risk state fold over the whole history through day end; the
	// day itself may not contain a transition.
	var history []events.Event
	for _, evt := range g.journal.All() {
		if evt.Day() <= in.Date {
			history = append(history, evt)
		}
	}
	snap.SystemMode, snap.RiskState = foldState(history)

	payload, err := json.Marshal(snap)
	if err != nil {
		return Sealed{}, fmt.Errorf("failed to seal snapshot for %s: %w", in.Date, err)
	}
	sum := sha256.Sum256(payload)

	sealed := Sealed{Snapshot: snap, Payload: payload, Checksum: hex.EncodeToString(sum[:])}
	g.log.Info().
		Str("date", in.Date).
		Int("events", snap.EventCount).
		Int("executed", snap.TradesExecuted).
		Int("blocked", snap.TradesBlocked).
		Str("checksum", sealed.Checksum[:12]).
		Msg("Daily snapshot sealed")
	return sealed, nil
}

// DayStrategyPnL folds per-strategy realized P&L from the day's executed
// trades. The journal is the source here rather than the risk governor, whose
// books reset at day rollover before the seal runs.
func DayStrategyPnL(journal *events.Log, date string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, evt := range journal.ForDay(date) {
		if evt.Type != events.TradeExecuted || evt.StrategyID == "" {
			continue
		}
		if pnl, ok := metaFloat(evt.Metadata, "realizedPnl"); ok {
			out[evt.StrategyID] = out[evt.StrategyID].Add(decimal.NewFromFloat(pnl))
		}
	}
	return out
}

func poolSummary(m capital.PoolMetrics) PoolSummary {
	return PoolSummary{
		Equity:      m.Total,
		Allocated:   m.Allocated,
		Available:   m.Available,
		PeakEquity:  m.Peak,
		DrawdownPct: m.CurrentDrawdownPct,
	}
}

// foldState walks events in append order and returns the last known system
// mode and risk state. Defaults are the boot values.
func foldState(evts []events.Event) (string, string) {
	mode := string(domain.ModeObserveOnly)
	risk := "normal"
	for _, evt := range evts {
		switch evt.Type {
		case events.SystemModeChange:
			if to := metaString(evt.Metadata, "to"); to != "" {
				mode = to
			}
		case events.RiskCheck:
			if paused, ok := metaBool(evt.Metadata, "paused"); ok {
				if paused {
					risk = "paused"
				} else {
					risk = "normal"
				}
			}
		}
	}
	return mode, risk
}

func copyDecimals(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaBool(meta map[string]interface{}, key string) (bool, bool) {
	if meta == nil {
		return false, false
	}
	b, ok := meta[key].(bool)
	return b, ok
}

// metaFloat tolerates both in-memory ints and JSON-decoded float64s.
func metaFloat(meta map[string]interface{}, key string) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
