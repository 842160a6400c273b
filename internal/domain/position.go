package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Lot is one independent buy. Lots of the same symbol are never merged.
type Lot struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	BuyPrice      float64   `json:"buy_price"` // fill-weighted average of this lot only
	LastBuyPrice  float64   `json:"last_buy_price"`
	HighestPrice  float64   `json:"highest_price"`
	EntryTime     time.Time `json:"entry_time"`
	TotalInvested float64   `json:"total_invested"` // spent + estimated buy commission
}

// ObservePrice raises the high-water mark. It never lowers it.
func (l *Lot) ObservePrice(price float64) {
	if price > l.HighestPrice {
		l.HighestPrice = price
	}
}

// Fill is one partial execution of a market order.
type Fill struct {
	Price    float64
	Quantity float64
}

// Order is what the exchange reports back for a market order.
type Order struct {
	ID               string
	Symbol           string
	Side             Side
	Status           string
	ExecutedQuantity float64
	CumulativeQuote  float64
	Fills            []Fill
}

// AverageFillPrice returns the fill-weighted price, falling back to
// cumulative quote / executed quantity, then to the supplied price.
func (o *Order) AverageFillPrice(fallback float64) float64 {
	var qty, notional float64
	for _, f := range o.Fills {
		qty += f.Quantity
		notional += f.Price * f.Quantity
	}
	if qty > 0 {
		return notional / qty
	}
	if o.ExecutedQuantity > 0 && o.CumulativeQuote > 0 {
		return o.CumulativeQuote / o.ExecutedQuantity
	}
	return fallback
}

// FilledQuantity prefers the sum of fills over the reported executed quantity.
func (o *Order) FilledQuantity() float64 {
	var qty float64
	for _, f := range o.Fills {
		qty += f.Quantity
	}
	if qty > 0 {
		return qty
	}
	return o.ExecutedQuantity
}

// Trade is a journal row for one filled order.
type Trade struct {
	ID          int64     `json:"id"`
	OrderID     string    `json:"order_id"`
	LotID       string    `json:"lot_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	QuoteAmount float64   `json:"quote_amount"`
	Commission  float64   `json:"commission"`
	Profit      float64   `json:"profit"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// PositionHistory represents a closed lot.
type PositionHistory struct {
	ID            int64     `json:"id"`
	LotID         string    `json:"lot_id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	TotalInvested float64   `json:"total_invested"`
	NetRevenue    float64   `json:"net_revenue"`
	Profit        float64   `json:"profit"`
	Reason        string    `json:"reason"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at"`
}
