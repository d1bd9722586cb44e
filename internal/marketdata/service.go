// Package marketdata provides live quotes and candles to the simulator, the
// regime detector and the shadow sampler. The feed keeps an in-memory cache;
// consumers read through the Service interface and must treat missing or
// stale data as a first-class outcome, never synthesize prices.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wardenlabs/warden/internal/domain"
)

// Ticker is the current top of book for one symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Service is the read interface onto market data.
type Service interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	OHLC(ctx context.Context, symbol, interval string, bars int) ([]Candle, error)
	LastUpdate() time.Time
}

// NoDataErr marks the absence of usable market data for a symbol.
func NoDataErr(symbol string) error {
	return &domain.CategorizedError{
		Category: domain.CategoryNoMarketData,
		Err:      fmt.Errorf("no market data for %s", symbol),
	}
}

// IsNoData reports whether err is a missing-market-data error.
func IsNoData(err error) bool {
	var ce *domain.CategorizedError
	return errors.As(err, &ce) && ce.Category == domain.CategoryNoMarketData
}

// Cache is the thread-safe quote and candle store behind the feed. It also
// serves directly as the Service implementation for tests and offline runs.
type Cache struct {
	mu         sync.RWMutex
	tickers    map[string]Ticker
	candles    map[string][]Candle // keyed by symbol+"|"+interval
	lastUpdate time.Time
	maxBars    int
}

// NewCache builds an empty cache keeping at most maxBars candles per series.
func NewCache(maxBars int) *Cache {
	if maxBars <= 0 {
		maxBars = 500
	}
	return &Cache{
		tickers: make(map[string]Ticker),
		candles: make(map[string][]Candle),
		maxBars: maxBars,
	}
}

// SetTicker stores a quote.
func (c *Cache) SetTicker(t Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[t.Symbol] = t
	if t.Timestamp.After(c.lastUpdate) {
		c.lastUpdate = t.Timestamp
	}
}

// AppendCandle stores a bar, trimming the series to the retention cap.
func (c *Cache) AppendCandle(symbol, interval string, bar Candle) {
	key := symbol + "|" + interval
	c.mu.Lock()
	defer c.mu.Unlock()

	series := append(c.candles[key], bar)
	if len(series) > c.maxBars {
		series = series[len(series)-c.maxBars:]
	}
	c.candles[key] = series
	if bar.Timestamp.After(c.lastUpdate) {
		c.lastUpdate = bar.Timestamp
	}
}

// SetCandles replaces a whole series, for fixtures and backfills.
func (c *Cache) SetCandles(symbol, interval string, series []Candle) {
	key := symbol + "|" + interval
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles[key] = append([]Candle(nil), series...)
	for _, bar := range series {
		if bar.Timestamp.After(c.lastUpdate) {
			c.lastUpdate = bar.Timestamp
		}
	}
}

// Ticker implements Service.
func (c *Cache) Ticker(_ context.Context, symbol string) (Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[symbol]
	if !ok {
		return Ticker{}, NoDataErr(symbol)
	}
	return t, nil
}

// OHLC implements Service, returning up to bars of the newest candles.
func (c *Cache) OHLC(_ context.Context, symbol, interval string, bars int) ([]Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	series, ok := c.candles[symbol+"|"+interval]
	if !ok || len(series) == 0 {
		return nil, NoDataErr(symbol)
	}
	if bars > 0 && len(series) > bars {
		series = series[len(series)-bars:]
	}
	return append([]Candle(nil), series...), nil
}

// LastUpdate implements Service; zero means nothing has arrived yet.
func (c *Cache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
