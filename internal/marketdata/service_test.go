package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheTicker(t *testing.T) {
	c := NewCache(10)
	ctx := context.Background()

	_, err := c.Ticker(ctx, "BTC/USD")
	require.Error(t, err)
	assert.True(t, IsNoData(err))

	now := time.Now().UTC()
	c.SetTicker(Ticker{Symbol: "BTC/USD", Bid: 59990, Ask: 60010, Last: 60000, Timestamp: now})

	got, err := c.Ticker(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, got.Mid())
	assert.Equal(t, now, c.LastUpdate())
}

func TestCacheOHLCRetention(t *testing.T) {
	c := NewCache(3)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		c.AppendCandle("ETH/USD", "1m", Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close:     float64(100 + i),
		})
	}

	series, err := c.OHLC(ctx, "ETH/USD", "1m", 0)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 102.0, series[0].Close)
	assert.Equal(t, 104.0, series[2].Close)

	// A smaller window returns only the newest bars.
	tail, err := c.OHLC(ctx, "ETH/USD", "1m", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 104.0, tail[1].Close)
}

func TestCacheOHLCMissingSeries(t *testing.T) {
	c := NewCache(10)
	_, err := c.OHLC(context.Background(), "SOL/USD", "1m", 5)
	require.Error(t, err)
	assert.True(t, IsNoData(err))

	// Same symbol under a different interval is still a miss.
	c.AppendCandle("SOL/USD", "5m", Candle{Timestamp: time.Now(), Close: 150})
	_, err = c.OHLC(context.Background(), "SOL/USD", "1m", 5)
	assert.True(t, IsNoData(err))
}

func TestCacheSetCandlesCopiesInput(t *testing.T) {
	c := NewCache(10)
	src := []Candle{{Timestamp: time.Now().UTC(), Close: 100}}
	c.SetCandles("BTC/USD", "1m", src)
	src[0].Close = 999

	series, err := c.OHLC(context.Background(), "BTC/USD", "1m", 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, series[0].Close)
}

func TestCacheLastUpdateMonotonic(t *testing.T) {
	c := NewCache(10)
	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	c.SetTicker(Ticker{Symbol: "BTC/USD", Timestamp: newer})
	c.SetTicker(Ticker{Symbol: "ETH/USD", Timestamp: older})

	assert.Equal(t, newer, c.LastUpdate())
}
