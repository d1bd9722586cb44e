package execution

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/marketdata"
)

// SlippageModel selects how size impact maps to slippage.
type SlippageModel string

const (
	SlippageLinear     SlippageModel = "linear"
	SlippageSquareRoot SlippageModel = "sqrt"
)

// SimulatorConfig carries the fill-model parameters.
type SimulatorConfig struct {
	Latency              time.Duration
	MakerFeeRate         float64
	TakerFeeRate         float64
	MaxLiquidityFraction float64
	SlippageModel        SlippageModel
	SlippageBaseBps      float64
	SizeImpactExponent   float64
}

// DefaultSimulatorConfig mirrors typical spot venue economics.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Latency:              50 * time.Millisecond,
		MakerFeeRate:         0.0016,
		TakerFeeRate:         0.0026,
		MaxLiquidityFraction: 0.1,
		SlippageModel:        SlippageLinear,
		SlippageBaseBps:      5,
		SizeImpactExponent:   2,
	}
}

// SimulatedAdapter prices orders off live market data with a deterministic
// fill model. It never invents prices: no ticker means no fill.
type SimulatedAdapter struct {
	market  marketdata.Service
	cfg     SimulatorConfig
	log     zerolog.Logger
	now     func() time.Time
	counter atomic.Int64
}

// NewSimulatedAdapter builds the simulator over a market data service.
func NewSimulatedAdapter(market marketdata.Service, cfg SimulatorConfig, log zerolog.Logger) *SimulatedAdapter {
	if cfg.MaxLiquidityFraction <= 0 {
		cfg.MaxLiquidityFraction = 0.1
	}
	if cfg.SlippageModel == "" {
		cfg.SlippageModel = SlippageLinear
	}
	return &SimulatedAdapter{
		market: market,
		cfg:    cfg,
		log:    log.With().Str("component", "simulated_adapter").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the order-id clock, for tests.
func (s *SimulatedAdapter) SetClock(now func() time.Time) { s.now = now }

func (s *SimulatedAdapter) Name() string { return "simulated" }

func (s *SimulatedAdapter) Buy(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error) {
	return s.AddOrder(ctx, orderFor(symbol, domain.SideBuy, qty, limit))
}

func (s *SimulatedAdapter) Sell(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error) {
	return s.AddOrder(ctx, orderFor(symbol, domain.SideSell, qty, limit))
}

// AddOrder runs the fill model: wait the fixed latency, fetch the book,
// cap the fill at the liquidity fraction, slip the mid by size impact and
// settle fees on the maker/taker schedule.
func (s *SimulatedAdapter) AddOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Fill{}, domain.NewTimeoutError(ctx.Err())
		case <-timer.C:
		}
	}

	ticker, err := s.market.Ticker(ctx, req.Symbol)
	if err != nil {
		return Fill{}, err
	}
	if ticker.Bid <= 0 || ticker.Ask <= 0 {
		return Fill{}, marketdata.NoDataErr(req.Symbol)
	}

	mid := ticker.Mid()
	depth := mid * 1000
	maxFillable := depth * s.cfg.MaxLiquidityFraction / mid

	requested, _ := req.Quantity.Float64()
	if requested <= 0 {
		return Fill{}, domain.NewInputError("order quantity must be positive")
	}
	filled := math.Min(requested, maxFillable)
	partial := filled < requested

	requestedQuote, _ := req.QuoteValue.Float64()
	if requestedQuote <= 0 {
		requestedQuote = requested * mid
	}
	impact := math.Min(1, requestedQuote/depth)
	scaled := math.Pow(impact, s.cfg.SizeImpactExponent)

	bps := s.cfg.SlippageBaseBps * (1 + scaled)
	if s.cfg.SlippageModel == SlippageSquareRoot {
		bps = s.cfg.SlippageBaseBps * math.Sqrt(1+scaled)
	}

	var avg, reference float64
	if req.Side == domain.SideBuy {
		avg = mid * (1 + bps/10000)
		reference = ticker.Ask
	} else {
		avg = mid * (1 - bps/10000)
		reference = ticker.Bid
	}

	maker := false
	if req.Type == OrderLimit {
		limit, _ := req.LimitPrice.Float64()
		if req.Side == domain.SideBuy {
			maker = limit <= ticker.Ask
		} else {
			maker = limit >= ticker.Bid
		}
	}
	feeRate := s.cfg.TakerFeeRate
	if maker {
		feeRate = s.cfg.MakerFeeRate
	}

	fill := Fill{
		OrderID:  fmt.Sprintf("SIM_%d_%d", s.now().Unix(), s.counter.Add(1)),
		Price:    decimal.NewFromFloat(avg),
		Quantity: decimal.NewFromFloat(filled),
		Fees:     decimal.NewFromFloat(filled * avg * feeRate),
		Slippage: decimal.NewFromFloat(avg - reference),
		Maker:    maker,
		Partial:  partial,
	}

	s.log.Debug().
		Str("orderId", fill.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("avgPrice", avg).
		Float64("filled", filled).
		Bool("partial", partial).
		Bool("maker", maker).
		Msg("Simulated fill")

	return fill, nil
}

func (s *SimulatedAdapter) Ticker(ctx context.Context, symbol string) (marketdata.Ticker, error) {
	return s.market.Ticker(ctx, symbol)
}

func (s *SimulatedAdapter) TickerInfo(ctx context.Context, symbols []string) (map[string]marketdata.Ticker, error) {
	out := make(map[string]marketdata.Ticker, len(symbols))
	for _, symbol := range symbols {
		t, err := s.market.Ticker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = t
	}
	return out, nil
}

func (s *SimulatedAdapter) OHLC(ctx context.Context, symbol, interval string, bars int) ([]marketdata.Candle, error) {
	return s.market.OHLC(ctx, symbol, interval, bars)
}

// Balance reports nothing: simulated capital lives in the pools, not on a
// venue.
func (s *SimulatedAdapter) Balance(_ context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func orderFor(symbol string, side domain.Side, qty decimal.Decimal, limit *decimal.Decimal) OrderRequest {
	req := OrderRequest{Symbol: symbol, Side: side, Type: OrderMarket, Quantity: qty}
	if limit != nil {
		req.Type = OrderLimit
		req.LimitPrice = *limit
	}
	return req
}
