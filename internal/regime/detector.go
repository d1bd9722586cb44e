// Package regime classifies market state per symbol and gates trade intents
// on the classification. The verdict shape is the contract; the detector
// itself is indicator-based: EMA alignment, RSI posture and trend strength
// over recent candles.
package regime

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/marketdata"
)

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
	atrPeriod     = 14
	minBars       = 30
)

// DetectorConfig holds cache and sampling settings.
type DetectorConfig struct {
	CacheTTL     time.Duration
	OHLCInterval string
	OHLCBars     int
}

// Detector computes and caches a regime verdict per symbol. Reads serve the
// cached verdict while fresh; Refresh re-detects and journals changes.
type Detector struct {
	market  marketdata.Service
	journal *events.Log
	cfg     DetectorConfig
	log     zerolog.Logger

	mu    sync.RWMutex
	cache map[string]domain.RegimeVerdict
	now   func() time.Time
}

// NewDetector builds a detector over the market data service.
func NewDetector(market marketdata.Service, journal *events.Log, cfg DetectorConfig, log zerolog.Logger) *Detector {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.OHLCInterval == "" {
		cfg.OHLCInterval = "1m"
	}
	if cfg.OHLCBars <= 0 {
		cfg.OHLCBars = 120
	}
	return &Detector{
		market:  market,
		journal: journal,
		cfg:     cfg,
		log:     log.With().Str("component", "regime_detector").Logger(),
		cache:   make(map[string]domain.RegimeVerdict),
		now:     time.Now,
	}
}

// SetClock overrides the staleness clock, for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// CurrentRegime returns the verdict for a symbol, re-detecting only when the
// cached verdict has gone stale. Reads never journal; only a re-detection
// that changes the classification does.
func (d *Detector) CurrentRegime(ctx context.Context, symbol string) domain.RegimeVerdict {
	d.mu.RLock()
	cached, ok := d.cache[symbol]
	now := d.now()
	d.mu.RUnlock()

	if ok && now.Sub(cached.Timestamp) < d.cfg.CacheTTL {
		return cached
	}
	return d.Refresh(ctx, symbol)
}

// Refresh forces a detection pass for the symbol and caches the verdict.
func (d *Detector) Refresh(ctx context.Context, symbol string) domain.RegimeVerdict {
	candles, err := d.market.OHLC(ctx, symbol, d.cfg.OHLCInterval, d.cfg.OHLCBars)
	now := d.now()

	var verdict domain.RegimeVerdict
	if err != nil || len(candles) < minBars {
		verdict = domain.UnknownRegime(symbol, now)
	} else {
		regime, confidence := classify(candles)
		verdict = domain.RegimeVerdict{
			Regime:     regime,
			Confidence: confidence,
			Symbol:     symbol,
			Timestamp:  now.UTC(),
		}
	}

	d.mu.Lock()
	prev, hadPrev := d.cache[symbol]
	d.cache[symbol] = verdict
	d.mu.Unlock()

	if !hadPrev || prev.Regime != verdict.Regime {
		d.log.Debug().
			Str("symbol", symbol).
			Str("regime", string(verdict.Regime)).
			Float64("confidence", verdict.Confidence).
			Msg("Regime detected")
		d.journal.Emit(events.RegimeDetected, "regime classification", map[string]interface{}{
			"symbol":     symbol,
			"regime":     string(verdict.Regime),
			"confidence": verdict.Confidence,
		})
	}

	return verdict
}

// ObservedVolatility returns an annualized volatility estimate from ATR, in
// percent. Zero when no data is available.
func (d *Detector) ObservedVolatility(ctx context.Context, symbol string) float64 {
	candles, err := d.market.OHLC(ctx, symbol, d.cfg.OHLCInterval, d.cfg.OHLCBars)
	if err != nil || len(candles) < atrPeriod+1 {
		return 0
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}

	atr := talib.Atr(high, low, closes, atrPeriod)
	last := atr[len(atr)-1]
	price := closes[len(closes)-1]
	if isNaN(last) || price <= 0 {
		return 0
	}

	barsPerYear := float64(365*24*60) / intervalMinutes(d.cfg.OHLCInterval)
	return last / price * 100 * math.Sqrt(barsPerYear)
}

// classify scores EMA alignment, price posture and RSI health into a
// regime plus a confidence in [0,1]. Mixed signals stay Unknown.
func classify(candles []marketdata.Candle) (domain.Regime, float64) {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	emaFast := talib.Ema(closes, emaFastPeriod)
	emaSlow := talib.Ema(closes, emaSlowPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)

	fast := emaFast[len(emaFast)-1]
	slow := emaSlow[len(emaSlow)-1]
	momentum := rsi[len(rsi)-1]
	last := closes[len(closes)-1]

	if isNaN(fast) || isNaN(slow) || isNaN(momentum) || slow == 0 {
		return domain.RegimeUnknown, 0
	}

	var bull, bear float64
	if fast > slow {
		bull++
	} else if fast < slow {
		bear++
	}
	if last > slow {
		bull++
	} else if last < slow {
		bear++
	}
	if momentum >= 45 && momentum <= 75 {
		bull++
	} else if momentum < 45 || momentum > 80 {
		bear++
	}

	strength := math.Min(1, math.Abs(fast-slow)/slow*40)

	switch {
	case fast > slow && bull >= 2:
		return domain.RegimeFavorable, clamp01(0.5*(bull/3) + 0.5*strength)
	case fast < slow && bear >= 2:
		return domain.RegimeUnfavorable, clamp01(0.5*(bear/3) + 0.5*strength)
	default:
		return domain.RegimeUnknown, clamp01(0.5 * math.Max(bull, bear) / 3)
	}
}

func intervalMinutes(interval string) float64 {
	switch strings.ToLower(interval) {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "1h":
		return 60
	case "4h":
		return 240
	case "1d":
		return 24 * 60
	}
	return 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isNaN(f float64) bool { return f != f }
