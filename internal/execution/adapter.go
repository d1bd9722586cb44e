// Package execution is the single funnel through which orders leave the
// system. The manager runs the gate chain, picks an adapter for the
// configured execution mode and journals exactly one terminal event per
// intent. No adapter method is reachable except through the manager.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/marketdata"
)

// OrderType distinguishes market from limit orders at the adapter boundary.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest is the venue-neutral order descriptor.
type OrderRequest struct {
	Symbol     string
	Side       domain.Side
	Type       OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal // meaningful only for OrderLimit
	QuoteValue decimal.Decimal // estimated quote-currency value of the order
}

// Fill is what an adapter reports back for an accepted order.
type Fill struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fees     decimal.Decimal
	Slippage decimal.Decimal // fill price minus the touch on the order's side
	Maker    bool
	Partial  bool
}

// VenueAdapter is the contract every execution backend satisfies. All calls
// may block on I/O and must honor context cancellation.
type VenueAdapter interface {
	Name() string
	Buy(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error)
	Sell(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error)
	AddOrder(ctx context.Context, req OrderRequest) (Fill, error)
	Ticker(ctx context.Context, symbol string) (marketdata.Ticker, error)
	TickerInfo(ctx context.Context, symbols []string) (map[string]marketdata.Ticker, error)
	OHLC(ctx context.Context, symbol, interval string, bars int) ([]marketdata.Candle, error)
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
}

func requestFromIntent(intent domain.TradeIntent) OrderRequest {
	req := OrderRequest{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Type:       OrderMarket,
		Quantity:   intent.Quantity,
		QuoteValue: intent.EstimatedValue,
	}
	if intent.LimitPrice != nil {
		req.Type = OrderLimit
		req.LimitPrice = *intent.LimitPrice
	}
	return req
}
