package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

// dustTolerance is the relative shortfall of a sell fill ignored as float noise.
const dustTolerance = 1e-9

const (
	ReasonProfitTarget = "profit target"
	ReasonTrailingStop = "trailing stop"
)

// SignalEvaluator turns one price observation into buy and sell decisions
// against the State aggregate. It is not safe for concurrent use; the caller
// holds the StateService lock for the duration of Evaluate.
type SignalEvaluator struct {
	exchange  domain.ExchangeGateway
	notifier  domain.Notifier
	persister Persister
	tradeRepo domain.TradeRepository
	metrics   Metrics
	logger    *zap.Logger

	trailingStop bool
	now          func() time.Time
	newID        func() string
}

type EvaluatorOption func(*SignalEvaluator)

// WithTrailingStop enables the trailing-stop close path. Off by default.
func WithTrailingStop(enabled bool) EvaluatorOption {
	return func(e *SignalEvaluator) { e.trailingStop = enabled }
}

func WithTradeRepository(repo domain.TradeRepository) EvaluatorOption {
	return func(e *SignalEvaluator) { e.tradeRepo = repo }
}

func WithMetrics(m Metrics) EvaluatorOption {
	return func(e *SignalEvaluator) { e.metrics = m }
}

// WithClock is for tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *SignalEvaluator) { e.now = now }
}

func NewSignalEvaluator(
	exchange domain.ExchangeGateway,
	notifier domain.Notifier,
	persister Persister,
	logger *zap.Logger,
	opts ...EvaluatorOption,
) *SignalEvaluator {
	e := &SignalEvaluator{
		exchange:  exchange,
		notifier:  notifier,
		persister: persister,
		metrics:   nopMetrics{},
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate processes one tick for the configured symbol. The unconditional
// first buy only happens when the symbol had no lots at the start of the
// tick; closing the last lot never triggers a buy in the same tick.
func (e *SignalEvaluator) Evaluate(ctx context.Context, st *domain.State, price float64) {
	symbol := st.Params.Symbol

	// Nothing to compare the first observation against.
	if _, ok := st.ReferencePrice(); !ok {
		st.SetReferencePrice(price)
		e.persister.Persist(ctx, st)
		e.logger.Info("Reference price initialized", zap.String("symbol", symbol), zap.Float64("price", price))
		return
	}

	// Gate (c) of the buy rule looks at the lots that existed when the tick
	// started, so a lot closed below does not bootstrap a re-buy.
	lots := st.Lots(symbol)
	hadLots := len(lots) > 0
	if hadLots {
		snapshot := make([]*domain.Lot, len(lots))
		copy(snapshot, lots)
		e.evaluateSells(ctx, st, snapshot, price)
	}
	e.evaluateBuy(ctx, st, symbol, price, hadLots)
}

func (e *SignalEvaluator) evaluateSells(ctx context.Context, st *domain.State, lots []*domain.Lot, price float64) {
	params := st.Params
	touched := false

	for _, lot := range lots {
		before := lot.HighestPrice
		lot.ObservePrice(price)
		if lot.HighestPrice != before {
			touched = true
		}

		target := lot.BuyPrice * (1 + params.IncreasePct)
		if price >= target {
			e.logger.Info("Profit target reached",
				zap.String("lot", lot.ID),
				zap.Float64("price", price),
				zap.Float64("target", target))
			if e.closeLot(ctx, st, lot, price, ReasonProfitTarget) {
				touched = false
			}
			continue
		}

		if e.trailingStop && trailingStopTriggered(lot, price, params.DecreasePct) {
			e.logger.Info("Trailing stop triggered",
				zap.String("lot", lot.ID),
				zap.Float64("price", price),
				zap.Float64("highest", lot.HighestPrice))
			if e.closeLot(ctx, st, lot, price, ReasonTrailingStop) {
				touched = false
			}
		}
	}

	if touched {
		e.persister.Persist(ctx, st)
	}
}

// trailingStopTriggered fires once the price has run above the buy price and
// then fallen decreasePct from its high, but never below the buy price.
func trailingStopTriggered(lot *domain.Lot, price, decreasePct float64) bool {
	if lot.HighestPrice <= lot.BuyPrice {
		return false
	}
	stop := lot.HighestPrice * (1 - decreasePct)
	return price <= stop && price >= lot.BuyPrice
}

func (e *SignalEvaluator) evaluateBuy(ctx context.Context, st *domain.State, symbol string, price float64, hadLots bool) {
	if !e.shouldBuy(st, price, hadLots) {
		if ref, _ := st.ReferencePrice(); price > ref {
			st.SetReferencePrice(price)
			e.persister.Persist(ctx, st)
		}
		return
	}
	e.openLot(ctx, st, symbol, price)
}

func (e *SignalEvaluator) shouldBuy(st *domain.State, price float64, hadLots bool) bool {
	params := st.Params

	if params.MaxBuyPrice != nil && price > *params.MaxBuyPrice {
		e.logger.Debug("Buy skipped: price above max buy price",
			zap.Float64("price", price),
			zap.Float64("max_buy_price", *params.MaxBuyPrice))
		return false
	}

	cost := params.EstimatedBuyCost()
	if !st.CanAfford(cost) {
		e.logger.Info("Buy skipped: insufficient budget",
			zap.Float64("remaining", st.RemainingBudget),
			zap.Float64("required", cost))
		return false
	}

	if !hadLots {
		return true
	}

	ref, _ := st.ReferencePrice()
	trigger := ref * (1 - params.DecreasePct)
	if price > trigger {
		return false
	}
	e.logger.Info("Buy signal",
		zap.Float64("price", price),
		zap.Float64("reference", ref),
		zap.Float64("trigger", trigger))
	return true
}

func (e *SignalEvaluator) openLot(ctx context.Context, st *domain.State, symbol string, price float64) {
	params := st.Params

	order, err := e.exchange.MarketBuy(ctx, symbol, params.TxAmount)
	if err != nil {
		e.logOrderFailure("buy", symbol, err)
		return
	}
	if order == nil {
		return
	}

	qty := order.FilledQuantity()
	if qty <= 0 {
		e.logger.Warn("Buy executed but filled quantity is zero", zap.String("order", order.ID))
		return
	}

	fillPrice := order.AverageFillPrice(price)
	spent := params.TxAmount
	if order.CumulativeQuote > 0 {
		spent = order.CumulativeQuote
	}
	commission := spent * params.CommissionPct

	lot := &domain.Lot{
		ID:            e.newID(),
		Symbol:        symbol,
		Quantity:      qty,
		BuyPrice:      fillPrice,
		LastBuyPrice:  fillPrice,
		HighestPrice:  fillPrice,
		EntryTime:     e.now().UTC(),
		TotalInvested: spent + commission,
	}
	st.OpenLot(lot)
	st.SetReferencePrice(fillPrice)
	e.persister.Persist(ctx, st)

	e.logger.Info("Bought",
		zap.String("symbol", symbol),
		zap.String("lot", lot.ID),
		zap.Float64("quantity", qty),
		zap.Float64("price", fillPrice),
		zap.Float64("invested", lot.TotalInvested),
		zap.Float64("remaining_budget", st.RemainingBudget))

	e.metrics.OrderFilled(domain.SideBuy)
	e.journal(ctx, &domain.Trade{
		OrderID:     order.ID,
		LotID:       lot.ID,
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Quantity:    qty,
		Price:       fillPrice,
		QuoteAmount: spent,
		Commission:  commission,
		CreatedAt:   lot.EntryTime,
	}, nil)

	e.notifier.NotifyBuy(ctx, domain.BuyEvent{
		Symbol:          symbol,
		Quantity:        qty,
		Price:           fillPrice,
		Invested:        lot.TotalInvested,
		RemainingBudget: st.RemainingBudget,
		OpenLots:        len(st.Lots(symbol)),
	})
}

// closeLot sells the whole lot. It reports whether the lot was closed.
func (e *SignalEvaluator) closeLot(ctx context.Context, st *domain.State, lot *domain.Lot, price float64, reason string) bool {
	if price < lot.BuyPrice {
		e.logger.Error("Refusing to close lot below its buy price",
			zap.String("lot", lot.ID),
			zap.Float64("price", price),
			zap.Float64("buy_price", lot.BuyPrice))
		return false
	}

	order, err := e.exchange.MarketSell(ctx, lot.Symbol, lot.Quantity)
	if err != nil {
		e.logOrderFailure("sell", lot.Symbol, err)
		return false
	}
	if order == nil {
		return false
	}
	if filled := order.FilledQuantity(); filled > 0 && lot.Quantity-filled > dustTolerance*lot.Quantity {
		// The ledger drops the whole lot; the remainder stays on the account.
		e.logger.Warn("Lot sold partially, remainder left untracked",
			zap.String("lot", lot.ID),
			zap.String("symbol", lot.Symbol),
			zap.Float64("quantity", lot.Quantity),
			zap.Float64("filled", filled),
			zap.Float64("dust", lot.Quantity-filled))
	}

	revenue := price * lot.Quantity
	if order.CumulativeQuote > 0 {
		revenue = order.CumulativeQuote
	}
	commission := revenue * st.Params.CommissionPct
	net := revenue - commission

	closed, profit, ok := st.CloseLot(lot.Symbol, lot.ID, net)
	if !ok {
		e.logger.Error("Sold lot missing from ledger", zap.String("lot", lot.ID))
		return false
	}
	st.SetReferencePrice(price)
	e.persister.Persist(ctx, st)

	profitPct := 0.0
	if closed.TotalInvested > 0 {
		profitPct = profit / closed.TotalInvested * 100
	}
	closedAt := e.now().UTC()

	e.logger.Info("Sold",
		zap.String("symbol", closed.Symbol),
		zap.String("lot", closed.ID),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("net_revenue", net),
		zap.Float64("profit", profit),
		zap.Float64("session_profit", st.SessionProfit))

	e.metrics.OrderFilled(domain.SideSell)
	e.metrics.LotClosed(reason)
	e.journal(ctx, &domain.Trade{
		OrderID:     order.ID,
		LotID:       closed.ID,
		Symbol:      closed.Symbol,
		Side:        domain.SideSell,
		Quantity:    closed.Quantity,
		Price:       order.AverageFillPrice(price),
		QuoteAmount: revenue,
		Commission:  commission,
		Profit:      profit,
		Reason:      reason,
		CreatedAt:   closedAt,
	}, &domain.PositionHistory{
		LotID:         closed.ID,
		Symbol:        closed.Symbol,
		Quantity:      closed.Quantity,
		EntryPrice:    closed.BuyPrice,
		ExitPrice:     price,
		TotalInvested: closed.TotalInvested,
		NetRevenue:    net,
		Profit:        profit,
		Reason:        reason,
		OpenedAt:      closed.EntryTime,
		ClosedAt:      closedAt,
	})

	e.notifier.NotifySell(ctx, domain.SellEvent{
		Symbol:          closed.Symbol,
		Quantity:        closed.Quantity,
		BuyPrice:        closed.BuyPrice,
		SellPrice:       price,
		Profit:          profit,
		ProfitPct:       profitPct,
		SessionProfit:   st.SessionProfit,
		RemainingBudget: st.RemainingBudget,
		Reason:          reason,
	})
	return true
}

func (e *SignalEvaluator) journal(ctx context.Context, trade *domain.Trade, history *domain.PositionHistory) {
	if e.tradeRepo == nil {
		return
	}
	if err := e.tradeRepo.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save trade", zap.Error(err))
	}
	if history == nil {
		return
	}
	if err := e.tradeRepo.SavePositionHistory(ctx, history); err != nil {
		e.logger.Error("Failed to save position history", zap.Error(err))
	}
}

func (e *SignalEvaluator) logOrderFailure(side, symbol string, err error) {
	if errors.Is(err, domain.ErrOrderRejected) {
		e.logger.Warn("Order not filled", zap.String("side", side), zap.String("symbol", symbol), zap.Error(err))
		return
	}
	e.logger.Error("Order failed", zap.String("side", side), zap.String("symbol", symbol), zap.Error(err))
}
