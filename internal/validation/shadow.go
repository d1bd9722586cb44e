package validation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/marketdata"
)

// TrackerConfig sets the observation window and how often the market is
// sampled inside it.
type TrackerConfig struct {
	Window         time.Duration
	SampleInterval time.Duration
}

// DefaultTrackerConfig returns the published defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Window:         5 * time.Minute,
		SampleInterval: time.Second,
	}
}

// Tracker records hypothetical executions handed over by the execution
// manager in shadow mode. Each record opens an observation window during
// which the market is sampled; at the window end the record is sealed with
// the final snapshot, whether the order would have been fillable and the
// mark-to-market P&L. Records hydrate from the store on construction, so
// evidence accumulated before a restart keeps counting. A record restored
// mid-window stays unfinalized; its observation context is gone and the
// window is not replayed.
type Tracker struct {
	cfg    TrackerConfig
	market marketdata.Service
	store  *Store // nil keeps records in memory only
	log    zerolog.Logger

	mu      sync.RWMutex
	records map[string]*ShadowRecord
	order   []string
	closed  bool

	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

// NewTracker builds a tracker, loading any persisted records.
func NewTracker(cfg TrackerConfig, market marketdata.Service, store *Store, log zerolog.Logger) (*Tracker, error) {
	def := DefaultTrackerConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}

	t := &Tracker{
		cfg:     cfg,
		market:  market,
		store:   store,
		log:     log.With().Str("component", "shadow_tracker").Logger(),
		records: make(map[string]*ShadowRecord),
		stop:    make(chan struct{}),
	}

	if store != nil {
		restored, err := store.All()
		if err != nil {
			return nil, err
		}
		for i := range restored {
			rec := restored[i]
			key := rec.Key()
			t.records[key] = &rec
			t.order = append(t.order, key)
		}
		if len(restored) > 0 {
			t.log.Info().Int("records", len(restored)).Msg("Restored shadow records")
		}
	}
	return t, nil
}

// Track opens a shadow record for one terminal outcome. Tracking the same
// decision again is a no-op. Implements the execution manager's recorder
// contract.
func (t *Tracker) Track(intent domain.TradeIntent, outcome domain.TradeOutcome, decision marketdata.Ticker, regime domain.RegimeVerdict) {
	rec := ShadowRecord{
		DecisionTS: intent.Timestamp,
		StrategyID: intent.StrategyID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Quantity:   intent.Quantity,
		LimitPrice: intent.LimitPrice,
		AtDecision: snapshotOf(decision),
		Fill: FillSummary{
			Success:   outcome.Success,
			OrderID:   outcome.OrderID,
			Price:     outcome.ExecutedPrice,
			Quantity:  outcome.ExecutedQty,
			Fees:      outcome.Fees,
			Slippage:  outcome.Slippage,
			Partial:   outcome.Partial,
			LatencyMs: outcome.Latency.Milliseconds(),
		},
		Regime: regime,
	}
	key := rec.Key()

	t.mu.Lock()
	if _, exists := t.records[key]; exists {
		t.mu.Unlock()
		return
	}
	t.records[key] = &rec
	t.order = append(t.order, key)
	closed := t.closed
	initial := rec
	t.mu.Unlock()

	t.persist(initial)
	t.log.Debug().
		Str("strategy", rec.StrategyID).
		Str("symbol", rec.Symbol).
		Bool("filled", rec.Fill.Success).
		Msg("Shadow record opened")

	if closed {
		t.finalize(key, rec.AtDecision, fillableAt(rec.Side, rec.LimitPrice, rec.AtDecision))
		return
	}
	t.wg.Add(1)
	go t.observe(key, intent, rec.AtDecision)
}

// observe samples the market until the window closes, then seals the record.
func (t *Tracker) observe(key string, intent domain.TradeIntent, decision MarketSnapshot) {
	defer t.wg.Done()

	window := time.NewTimer(t.cfg.Window)
	defer window.Stop()
	sample := time.NewTicker(t.cfg.SampleInterval)
	defer sample.Stop()

	last := decision
	fillable := fillableAt(intent.Side, intent.LimitPrice, decision)
	for {
		select {
		case <-t.stop:
			t.finalize(key, last, fillable)
			return
		case <-window.C:
			t.finalize(key, last, fillable)
			return
		case <-sample.C:
			q, err := t.market.Ticker(context.Background(), intent.Symbol)
			if err != nil {
				continue
			}
			last = snapshotOf(q)
			if fillableAt(intent.Side, intent.LimitPrice, last) {
				fillable = true
			}
		}
	}
}

func (t *Tracker) finalize(key string, end MarketSnapshot, fillable bool) {
	t.mu.Lock()
	rec, ok := t.records[key]
	if !ok || rec.Finalized {
		t.mu.Unlock()
		return
	}
	rec.AtWindowEnd = end
	rec.ObservedFillable = fillable
	rec.HypotheticalPnL = hypotheticalPnL(*rec)
	rec.Finalized = true
	sealed := *rec
	t.mu.Unlock()

	t.persist(sealed)
	t.log.Debug().
		Str("strategy", sealed.StrategyID).
		Str("symbol", sealed.Symbol).
		Str("hypotheticalPnl", sealed.HypotheticalPnL.String()).
		Bool("observedFillable", sealed.ObservedFillable).
		Msg("Shadow record sealed")
}

func (t *Tracker) persist(rec ShadowRecord) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(rec); err != nil {
		t.log.Warn().Err(err).Str("key", rec.Key()).Msg("Failed to persist shadow record")
	}
}

// Records returns a copy of every record in tracking order.
func (t *Tracker) Records() []ShadowRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ShadowRecord, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, *t.records[key])
	}
	return out
}

// Count returns the number of records, open windows included.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Drain blocks until every open observation window has run its course.
func (t *Tracker) Drain() {
	t.wg.Wait()
}

// Close cuts all open windows short, sealing their records with the latest
// sample, and blocks until done.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// fillableAt reports whether the order would have been fillable against the
// snapshot: marketable orders need only a live touch, limit orders need the
// market through their price.
func fillableAt(side domain.Side, limit *decimal.Decimal, snap MarketSnapshot) bool {
	if limit == nil {
		if side == domain.SideBuy {
			return snap.Ask > 0
		}
		return snap.Bid > 0
	}
	lp, _ := limit.Float64()
	if side == domain.SideBuy {
		return snap.Ask > 0 && snap.Ask <= lp
	}
	return snap.Bid > 0 && snap.Bid >= lp
}
