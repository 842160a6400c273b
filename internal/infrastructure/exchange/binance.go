package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

const DefaultStreamFreshness = 5 * time.Second

// PriceSource is a push-fed price cache, typically a PriceStream.
type PriceSource interface {
	LastPrice(symbol string) (price float64, at time.Time, ok bool)
}

// BinanceGateway is the spot implementation of domain.ExchangeGateway.
type BinanceGateway struct {
	client    *binance.Client
	stream    PriceSource
	freshness time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	steps map[string]decimal.Decimal
}

type GatewayOption func(*BinanceGateway)

// WithPriceStream lets CurrentPrice use streamed prices younger than maxAge.
func WithPriceStream(stream PriceSource, maxAge time.Duration) GatewayOption {
	return func(g *BinanceGateway) {
		g.stream = stream
		if maxAge > 0 {
			g.freshness = maxAge
		}
	}
}

// WithBaseURL points the REST client somewhere else (tests, proxies).
func WithBaseURL(url string) GatewayOption {
	return func(g *BinanceGateway) { g.client.BaseURL = url }
}

func NewBinanceGateway(apiKey, apiSecret string, testnet bool, logger *zap.Logger, opts ...GatewayOption) *BinanceGateway {
	// go-binance reads the testnet switch when the client is built.
	binance.UseTestnet = testnet
	g := &BinanceGateway{
		client:    binance.NewClient(apiKey, apiSecret),
		freshness: DefaultStreamFreshness,
		logger:    logger,
		now:       time.Now,
		steps:     make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *BinanceGateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if g.stream != nil {
		if price, at, ok := g.stream.LastPrice(symbol); ok && g.now().Sub(at) <= g.freshness {
			return price, nil
		}
	}

	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid price %q for %s: %w", p.Price, symbol, err)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
}

// LotStep returns the LOT_SIZE step of symbol, cached after the first lookup.
func (g *BinanceGateway) LotStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.Lock()
	step, ok := g.steps[symbol]
	g.mu.Unlock()
	if ok {
		return step, nil
	}

	info, err := g.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	step = decimal.New(1, -8)
	found := false
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		found = true
		if f := s.LotSizeFilter(); f != nil && f.StepSize != "" {
			parsed, err := decimal.NewFromString(f.StepSize)
			if err == nil && parsed.IsPositive() {
				step = parsed
			}
		}
	}
	if !found {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}

	g.mu.Lock()
	g.steps[symbol] = step
	g.mu.Unlock()
	return step, nil
}

// RoundToStep floors qty to a whole number of steps.
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// MarketBuy spends quoteAmount at market. It refuses up front when the
// amount would not buy a single lot step at the current price.
func (g *BinanceGateway) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*domain.Order, error) {
	price, err := g.CurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	step, err := g.LotStep(ctx, symbol)
	if err != nil {
		return nil, err
	}

	quote := decimal.NewFromFloat(quoteAmount)
	qty := RoundToStep(quote.Div(decimal.NewFromFloat(price)), step)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s quote amount %s is below one lot step %s", domain.ErrOrderRejected, symbol, quote, step)
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quote.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, g.orderError("buy", symbol, err)
	}

	g.logger.Debug("Market buy placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("executed_qty", resp.ExecutedQuantity),
		zap.String("quote_qty", resp.CummulativeQuoteQuantity))
	return toOrder(resp), nil
}

// MarketSell sells quantity rounded down to the lot step.
func (g *BinanceGateway) MarketSell(ctx context.Context, symbol string, quantity float64) (*domain.Order, error) {
	step, err := g.LotStep(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := RoundToStep(decimal.NewFromFloat(quantity), step)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s quantity %v is below one lot step %s", domain.ErrOrderRejected, symbol, quantity, step)
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, g.orderError("sell", symbol, err)
	}

	g.logger.Debug("Market sell placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("executed_qty", resp.ExecutedQuantity),
		zap.String("quote_qty", resp.CummulativeQuoteQuantity))
	return toOrder(resp), nil
}

func (g *BinanceGateway) orderError(side, symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s %s: code %d: %s", domain.ErrOrderRejected, side, symbol, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("failed to place %s order for %s: %w", side, symbol, err)
}

func toOrder(resp *binance.CreateOrderResponse) *domain.Order {
	o := &domain.Order{
		ID:               strconv.FormatInt(resp.OrderID, 10),
		Symbol:           resp.Symbol,
		Side:             domain.Side(resp.Side),
		Status:           string(resp.Status),
		ExecutedQuantity: parseFloat(resp.ExecutedQuantity),
		CumulativeQuote:  parseFloat(resp.CummulativeQuoteQuantity),
	}
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		o.Fills = append(o.Fills, domain.Fill{
			Price:    parseFloat(f.Price),
			Quantity: parseFloat(f.Quantity),
		})
	}
	return o
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
