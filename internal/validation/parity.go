package validation

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wardenlabs/warden/internal/domain"
)

// Summary aggregates how closely the simulator tracked the observed market
// across a set of shadow records.
//
// Slippage is compared on cost terms: the simulated fill's distance from the
// decision midpoint, side-signed so that paying up is positive, against the
// half spread a taker actually faced at the decision. Fill rates compare the
// simulator's success rate with how often the observation window showed the
// order fillable. Latency compares simulated round trips with the configured
// venue baseline.
type Summary struct {
	Records          int     `json:"records"`
	Finalized        int     `json:"finalized"`
	FillRateSim      float64 `json:"fillRateSim"`
	FillRateObserved float64 `json:"fillRateObserved"`
	FillRateDelta    float64 `json:"fillRateDelta"`
	SlippageDeltaPct float64 `json:"slippageDeltaPct"`
	LatencyDeltaMs   float64 `json:"latencyDeltaMs"`
}

// Parity computes the summary over records. Records whose decision snapshot
// carries no usable midpoint contribute to fill rates but not to the
// slippage comparison.
func Parity(records []ShadowRecord, baselineLatency time.Duration) Summary {
	s := Summary{Records: len(records)}
	if len(records) == 0 {
		return s
	}

	var simCost, obsCost, latencies []float64
	filled, fillable := 0, 0
	for _, rec := range records {
		if rec.Finalized {
			s.Finalized++
		}
		if rec.ObservedFillable {
			fillable++
		}
		if !rec.Fill.Success {
			continue
		}
		filled++
		latencies = append(latencies, float64(rec.Fill.LatencyMs))

		mid := rec.AtDecision.Mid()
		if mid <= 0 {
			continue
		}
		price, _ := rec.Fill.Price.Float64()
		cost := (price - mid) / mid * 100
		if rec.Side == domain.SideSell {
			cost = -cost
		}
		simCost = append(simCost, cost)
		obsCost = append(obsCost, (rec.AtDecision.Ask-rec.AtDecision.Bid)/2/mid*100)
	}

	total := float64(len(records))
	s.FillRateSim = float64(filled) / total
	s.FillRateObserved = float64(fillable) / total
	s.FillRateDelta = s.FillRateSim - s.FillRateObserved
	if len(simCost) > 0 {
		s.SlippageDeltaPct = stat.Mean(simCost, nil) - stat.Mean(obsCost, nil)
	}
	if len(latencies) > 0 {
		s.LatencyDeltaMs = stat.Mean(latencies, nil) - float64(baselineLatency.Milliseconds())
	}
	return s
}
