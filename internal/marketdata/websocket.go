package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// Feed is the websocket market-data client. It subscribes to ticker and
// candle channels for the configured symbols and keeps the shared cache
// current, reconnecting with exponential backoff when the stream drops.
type Feed struct {
	url     string
	symbols []string
	cache   *Cache
	log     zerolog.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	connCtx      context.Context
	cancelFunc   context.CancelFunc
	connected    bool
	reconnecting bool
	stopped      bool
	stopChan     chan struct{}
}

// NewFeed builds a feed writing into cache.
func NewFeed(url string, symbols []string, cache *Cache, log zerolog.Logger) *Feed {
	return &Feed{
		url:      url,
		symbols:  symbols,
		cache:    cache,
		log:      log.With().Str("component", "market_data_feed").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Cache returns the store this feed maintains.
func (f *Feed) Cache() *Cache { return f.cache }

// Start dials the feed and begins the read loop. A failed initial dial is
// not fatal; the reconnect loop keeps trying in the background.
func (f *Feed) Start() error {
	f.log.Info().Str("url", f.url).Msg("Starting market data feed")

	if err := f.connect(); err != nil {
		f.log.Warn().Err(err).Msg("Initial feed connection failed, will retry in background")
		go f.reconnectLoop()
		return err
	}

	f.mu.RLock()
	ctx := f.connCtx
	f.mu.RUnlock()
	go f.readMessages(ctx)

	return nil
}

// Stop shuts the feed down.
func (f *Feed) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	close(f.stopChan)
	return f.disconnect()
}

// IsConnected reports the live connection state for health.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial market data feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	f.conn = conn
	f.connCtx = connCtx
	f.cancelFunc = connCancel
	f.connected = true

	if err := f.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		f.conn = nil
		f.connCtx = nil
		f.cancelFunc = nil
		f.connected = false
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	f.log.Info().Int("symbols", len(f.symbols)).Msg("Market data feed connected")
	return nil
}

func (f *Feed) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
		f.cancelFunc = nil
	}

	err := f.conn.Close(websocket.StatusNormalClosure, "")
	f.conn = nil
	f.connCtx = nil
	f.connected = false

	if err != nil {
		return fmt.Errorf("error closing feed: %w", err)
	}
	return nil
}

func (f *Feed) subscribe(ctx context.Context) error {
	msg := map[string]interface{}{
		"op":       "subscribe",
		"channels": []string{"ticker", "ohlc"},
		"symbols":  f.symbols,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return f.conn.Write(writeCtx, websocket.MessageText, data)
}

func (f *Feed) readMessages(ctx context.Context) {
	defer func() {
		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if !stopped {
			go f.reconnectLoop()
		}
	}()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				f.log.Info().Msg("Feed closed normally")
			} else if ctx.Err() == nil {
				f.log.Error().Err(err).Msg("Feed read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := f.handleMessage(message); err != nil {
			f.log.Error().Err(err).Msg("Failed to handle feed message")
		}
	}
}

// handleMessage parses the feed protocol: a two-element array of channel
// name and payload.
func (f *Feed) handleMessage(message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("failed to parse message envelope: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("message envelope too short: %d elements", len(raw))
	}

	var channel string
	if err := json.Unmarshal(raw[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	switch channel {
	case "ticker":
		var t Ticker
		if err := json.Unmarshal(raw[1], &t); err != nil {
			return fmt.Errorf("failed to parse ticker: %w", err)
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = time.Now().UTC()
		}
		f.cache.SetTicker(t)
	case "ohlc":
		var bar struct {
			Symbol   string `json:"symbol"`
			Interval string `json:"interval"`
			Candle
		}
		if err := json.Unmarshal(raw[1], &bar); err != nil {
			return fmt.Errorf("failed to parse candle: %w", err)
		}
		f.cache.AppendCandle(bar.Symbol, bar.Interval, bar.Candle)
	default:
		f.log.Debug().Str("channel", channel).Msg("Ignoring unknown channel")
	}

	return nil
}

func (f *Feed) reconnectLoop() {
	f.mu.Lock()
	if f.reconnecting || f.stopped {
		f.mu.Unlock()
		return
	}
	f.reconnecting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.reconnecting = false
		f.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)
		f.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting market data feed")

		select {
		case <-time.After(delay):
		case <-f.stopChan:
			return
		}

		if err := f.connect(); err != nil {
			f.log.Error().Err(err).Int("attempt", attempt).Msg("Feed reconnect failed")
			continue
		}

		f.mu.RLock()
		ctx := f.connCtx
		f.mu.RUnlock()
		go f.readMessages(ctx)
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
