package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/wardenlabs/warden/internal/domain"
)

// Confidence score weights (must sum to 1.0) and parity penalties. The score
// rewards volume of evidence, time in validation, simulator parity and
// regime coverage; parity deviations are charged in score points.
const (
	weightVolume    = 0.30 // shadow trade count against the floor
	weightLongevity = 0.25 // active validation days against the floor
	weightParity    = 0.30 // simulator agreement with the observed market
	weightCoverage  = 0.15 // evidence spread across regimes

	penaltySlippagePerPct = 20.0 // per percent of slippage delta
	penaltyFillRatePerPt  = 50.0 // per unit of fill-rate delta
	penaltyLatencyPerMs   = 0.05 // per millisecond of latency delta
)

// GateConfig holds the promotion thresholds.
type GateConfig struct {
	MinShadowTrades    int
	MinActiveDays      int
	MinOverallScore    float64
	MinTradesPerRegime int
	UnsafeMinSample    int           // evidence floor before a combo can be ruled unsafe
	BaselineLatency    time.Duration // reference venue round trip for parity
}

// DefaultGateConfig returns the published thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinShadowTrades:    500,
		MinActiveDays:      100,
		MinOverallScore:    90,
		MinTradesPerRegime: 50,
		UnsafeMinSample:    20,
		BaselineLatency:    150 * time.Millisecond,
	}
}

// RecordSource yields the accumulated shadow records.
type RecordSource interface {
	Records() []ShadowRecord
}

// RuntimeSource yields the count of distinct validation days.
type RuntimeSource interface {
	ActiveTradingDays() int
}

// Metrics is the evidence behind a gate decision.
type Metrics struct {
	ShadowTrades int                   `json:"shadowTrades"`
	ActiveDays   int                   `json:"activeDays"`
	Score        float64               `json:"score"`
	RegimeTrades map[domain.Regime]int `json:"regimeTrades"`
	Parity       Summary               `json:"parity"`
}

// Report is the full gate answer: the decision, every unmet condition and
// the metrics they were judged on.
type Report struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
	Metrics Metrics  `json:"metrics"`
}

// Gate is the hard precondition on live execution. It admits real orders
// only once the accumulated shadow evidence clears every threshold; until
// then the execution manager converts real intents into blocked outcomes.
type Gate struct {
	cfg     GateConfig
	records RecordSource
	runtime RuntimeSource
	log     zerolog.Logger
}

// NewGate wires the gate to its evidence sources.
func NewGate(records RecordSource, runtime RuntimeSource, cfg GateConfig, log zerolog.Logger) *Gate {
	def := DefaultGateConfig()
	if cfg.MinShadowTrades <= 0 {
		cfg.MinShadowTrades = def.MinShadowTrades
	}
	if cfg.MinActiveDays <= 0 {
		cfg.MinActiveDays = def.MinActiveDays
	}
	if cfg.MinOverallScore <= 0 {
		cfg.MinOverallScore = def.MinOverallScore
	}
	if cfg.MinTradesPerRegime <= 0 {
		cfg.MinTradesPerRegime = def.MinTradesPerRegime
	}
	if cfg.UnsafeMinSample <= 0 {
		cfg.UnsafeMinSample = def.UnsafeMinSample
	}
	if cfg.BaselineLatency <= 0 {
		cfg.BaselineLatency = def.BaselineLatency
	}
	return &Gate{
		cfg:     cfg,
		records: records,
		runtime: runtime,
		log:     log.With().Str("component", "confidence_gate").Logger(),
	}
}

// Check evaluates every threshold and reports all unmet conditions.
func (g *Gate) Check() Report {
	recs := g.records.Records()
	days := g.runtime.ActiveTradingDays()
	parity := Parity(recs, g.cfg.BaselineLatency)

	regimeTrades := make(map[domain.Regime]int)
	comboPnl := make(map[string][]float64)
	for _, rec := range recs {
		regimeTrades[rec.Regime.Regime]++
		key := rec.StrategyID + "|" + string(rec.Regime.Regime)
		comboPnl[key] = append(comboPnl[key], rec.HypotheticalPnL.InexactFloat64())
	}

	metrics := Metrics{
		ShadowTrades: len(recs),
		ActiveDays:   days,
		RegimeTrades: regimeTrades,
		Parity:       parity,
	}
	metrics.Score = g.score(len(recs), days, parity, regimeTrades)

	var reasons []string
	if len(recs) < g.cfg.MinShadowTrades {
		reasons = append(reasons, fmt.Sprintf("shadow trade count %d below required %d",
			len(recs), g.cfg.MinShadowTrades))
	}
	if days < g.cfg.MinActiveDays {
		reasons = append(reasons, fmt.Sprintf("active trading days %d below required %d",
			days, g.cfg.MinActiveDays))
	}
	if metrics.Score < g.cfg.MinOverallScore {
		reasons = append(reasons, fmt.Sprintf("confidence score %.1f below required %.1f",
			metrics.Score, g.cfg.MinOverallScore))
	}
	for _, regime := range coveredRegimes() {
		if n := regimeTrades[regime]; n < g.cfg.MinTradesPerRegime {
			reasons = append(reasons, fmt.Sprintf("regime %s covered by %d shadow trades, need %d",
				regime, n, g.cfg.MinTradesPerRegime))
		}
	}
	reasons = append(reasons, g.unsafeCombos(comboPnl)...)

	return Report{Allowed: len(reasons) == 0, Reasons: reasons, Metrics: metrics}
}

// Allow implements the execution manager's gate contract.
func (g *Gate) Allow(_ context.Context) domain.Verdict {
	rep := g.Check()
	if rep.Allowed {
		return domain.Allow()
	}
	reason := strings.Join(rep.Reasons, "; ")
	g.log.Debug().
		Int("shadowTrades", rep.Metrics.ShadowTrades).
		Int("activeDays", rep.Metrics.ActiveDays).
		Float64("score", rep.Metrics.Score).
		Str("reason", reason).
		Msg("Live execution denied")
	return domain.Deny(domain.LayerConfidence, domain.CategoryConfidenceGate, reason)
}

// Enforce returns a hard error while any threshold is unmet. Startup checks
// use it to refuse a real-mode boot outright.
func (g *Gate) Enforce() error {
	rep := g.Check()
	if rep.Allowed {
		return nil
	}
	return &domain.CategorizedError{
		Category: domain.CategoryConfidenceGate,
		Err:      errors.New(strings.Join(rep.Reasons, "; ")),
	}
}

func (g *Gate) score(trades, days int, parity Summary, regimeTrades map[domain.Regime]int) float64 {
	volume := capped(float64(trades)/float64(g.cfg.MinShadowTrades)) * 100
	longevity := capped(float64(days)/float64(g.cfg.MinActiveDays)) * 100

	penalty := math.Abs(parity.SlippageDeltaPct)*penaltySlippagePerPct +
		math.Abs(parity.FillRateDelta)*penaltyFillRatePerPt +
		math.Abs(parity.LatencyDeltaMs)*penaltyLatencyPerMs
	parityScore := 100 - math.Min(100, penalty)

	coverage := 100.0
	for _, regime := range coveredRegimes() {
		c := capped(float64(regimeTrades[regime])/float64(g.cfg.MinTradesPerRegime)) * 100
		if c < coverage {
			coverage = c
		}
	}

	return weightVolume*volume + weightLongevity*longevity +
		weightParity*parityScore + weightCoverage*coverage
}

// unsafeCombos flags strategy and regime pairings whose shadow evidence shows
// negative expectancy over a meaningful sample. Later profitable records can
// clear a combo again.
func (g *Gate) unsafeCombos(comboPnl map[string][]float64) []string {
	keys := make([]string, 0, len(comboPnl))
	for key := range comboPnl {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var reasons []string
	for _, key := range keys {
		pnls := comboPnl[key]
		if len(pnls) < g.cfg.UnsafeMinSample || stat.Mean(pnls, nil) >= 0 {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		reasons = append(reasons, fmt.Sprintf("strategy %s shows negative expectancy in %s regime over %d shadow trades",
			parts[0], parts[1], len(pnls)))
	}
	return reasons
}

// coveredRegimes lists the classifications that need their own evidence.
// Unknown is the absence of a classification, not a regime to cover.
func coveredRegimes() []domain.Regime {
	return []domain.Regime{domain.RegimeFavorable, domain.RegimeUnfavorable}
}

func capped(ratio float64) float64 {
	return math.Min(1, math.Max(0, ratio))
}
