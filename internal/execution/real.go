package execution

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/marketdata"
)

const testnetBaseURL = "https://testnet.binance.vision/api"

// RealAdapter places orders against Binance spot. It is only reachable
// through the execution manager, behind the confidence gate.
type RealAdapter struct {
	client *binance.Client
	log    zerolog.Logger
}

// NewRealAdapter builds the venue client. Testnet mode points the client at
// the Binance spot testnet.
func NewRealAdapter(apiKey, apiSecret string, testnet bool, log zerolog.Logger) *RealAdapter {
	client := binance.NewClient(apiKey, apiSecret)
	if testnet {
		client.BaseURL = testnetBaseURL
	}
	return &RealAdapter{
		client: client,
		log:    log.With().Str("component", "real_adapter").Logger(),
	}
}

func (r *RealAdapter) Name() string { return "binance" }

func (r *RealAdapter) Buy(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error) {
	return r.AddOrder(ctx, orderFor(symbol, domain.SideBuy, qty, limit))
}

func (r *RealAdapter) Sell(ctx context.Context, symbol string, qty decimal.Decimal, limit *decimal.Decimal) (Fill, error) {
	return r.AddOrder(ctx, orderFor(symbol, domain.SideSell, qty, limit))
}

func (r *RealAdapter) AddOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	side := binance.SideTypeBuy
	if req.Side == domain.SideSell {
		side = binance.SideTypeSell
	}

	svc := r.client.NewCreateOrderService().
		Symbol(venueSymbol(req.Symbol)).
		Side(side).
		Quantity(req.Quantity.String())

	if req.Type == OrderLimit {
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.LimitPrice.String())
	} else {
		svc.Type(binance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return Fill{}, venueError(err)
	}

	fill, err := fillFromOrder(res)
	if err != nil {
		return Fill{}, err
	}

	r.log.Info().
		Str("orderId", fill.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("executedQty", fill.Quantity.String()).
		Str("avgPrice", fill.Price.String()).
		Msg("Venue order placed")

	return fill, nil
}

func (r *RealAdapter) Ticker(ctx context.Context, symbol string) (marketdata.Ticker, error) {
	books, err := r.client.NewListBookTickersService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return marketdata.Ticker{}, venueError(err)
	}
	if len(books) == 0 {
		return marketdata.Ticker{}, marketdata.NoDataErr(symbol)
	}

	prices, err := r.client.NewListPricesService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return marketdata.Ticker{}, venueError(err)
	}

	t := marketdata.Ticker{
		Symbol:    symbol,
		Bid:       parsePrice(books[0].BidPrice),
		Ask:       parsePrice(books[0].AskPrice),
		Timestamp: time.Now().UTC(),
	}
	if len(prices) > 0 {
		t.Last = parsePrice(prices[0].Price)
	}
	return t, nil
}

func (r *RealAdapter) TickerInfo(ctx context.Context, symbols []string) (map[string]marketdata.Ticker, error) {
	out := make(map[string]marketdata.Ticker, len(symbols))
	for _, symbol := range symbols {
		t, err := r.Ticker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = t
	}
	return out, nil
}

func (r *RealAdapter) OHLC(ctx context.Context, symbol, interval string, bars int) ([]marketdata.Candle, error) {
	klines, err := r.client.NewKlinesService().
		Symbol(venueSymbol(symbol)).
		Interval(interval).
		Limit(bars).
		Do(ctx)
	if err != nil {
		return nil, venueError(err)
	}

	out := make([]marketdata.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, marketdata.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
		})
	}
	return out, nil
}

func (r *RealAdapter) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := r.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, venueError(err)
	}

	out := make(map[string]decimal.Decimal)
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil || free.IsZero() {
			continue
		}
		out[b.Asset] = free
	}
	return out, nil
}

// fillFromOrder aggregates the per-fill breakdown into one volume-weighted
// average. Orders accepted without fills (resting limits) report zero
// executed quantity.
func fillFromOrder(res *binance.CreateOrderResponse) (Fill, error) {
	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return Fill{}, domain.NewPermanentError(err)
	}
	origin, err := decimal.NewFromString(res.OrigQuantity)
	if err != nil {
		return Fill{}, domain.NewPermanentError(err)
	}

	var fees decimal.Decimal
	var weighted decimal.Decimal
	for _, f := range res.Fills {
		price, perr := decimal.NewFromString(f.Price)
		qty, qerr := decimal.NewFromString(f.Quantity)
		commission, cerr := decimal.NewFromString(f.Commission)
		if perr != nil || qerr != nil || cerr != nil {
			return Fill{}, domain.NewPermanentError(errors.New("malformed fill in venue response"))
		}
		weighted = weighted.Add(price.Mul(qty))
		fees = fees.Add(commission)
	}

	avg := decimal.Zero
	if executed.IsPositive() {
		avg = weighted.Div(executed)
	}

	return Fill{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Price:    avg,
		Quantity: executed,
		Fees:     fees,
		Partial:  executed.LessThan(origin),
	}, nil
}

// venueError categorizes a venue failure. Rate limiting and server-side
// errors are retryable; everything else is permanent.
func venueError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewTimeoutError(err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1007, -1021: // rate limited, venue timeout, clock drift
			return domain.NewTransientError(err)
		}
		return domain.NewPermanentError(err)
	}
	return domain.NewTransientError(err)
}

func venueSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol))
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
