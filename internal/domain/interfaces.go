package domain

import "context"

// ExchangeGateway is the subset of the exchange the engine needs. Order
// methods return a nil order with an error when the order did not go through;
// the engine treats that as a no-op.
type ExchangeGateway interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*Order, error)
	MarketSell(ctx context.Context, symbol string, quantity float64) (*Order, error)
}

type BuyEvent struct {
	Symbol          string
	Quantity        float64
	Price           float64
	Invested        float64
	RemainingBudget float64
	OpenLots        int
}

type SellEvent struct {
	Symbol          string
	Quantity        float64
	BuyPrice        float64
	SellPrice       float64
	Profit          float64
	ProfitPct       float64
	SessionProfit   float64
	RemainingBudget float64
	Reason          string
}

// Notifier delivers trade and lifecycle messages to the operator channel.
// NotifyBuy and NotifySell are fire-and-forget. NotifyRestart blocks until
// the message is delivered or fails.
type Notifier interface {
	NotifyBuy(ctx context.Context, ev BuyEvent)
	NotifySell(ctx context.Context, ev SellEvent)
	NotifyRestart(ctx context.Context, symbol string, openLots int) error
}

// StateRepository is the persistence port for the State aggregate.
type StateRepository interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// TradeRepository journals fills and closed lots.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)
}
