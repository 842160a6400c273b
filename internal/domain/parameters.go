package domain

import "fmt"

const DefaultCommissionPct = 0.001

// Parameters are the operator-tunable knobs of the engine.
type Parameters struct {
	Symbol          string   `json:"symbol" yaml:"symbol"`
	DecreasePct     float64  `json:"decrease_pct" yaml:"decrease_pct"`         // buy trigger drop and trailing distance
	IncreasePct     float64  `json:"increase_pct" yaml:"increase_pct"`         // profit target
	TxAmount        float64  `json:"tx_amount" yaml:"tx_amount"`               // quote amount per buy
	AllocatedBudget float64  `json:"allocated_budget" yaml:"allocated_budget"` // quote amount in total
	CommissionPct   float64  `json:"commission_pct" yaml:"commission_pct"`
	MaxBuyPrice     *float64 `json:"max_buy_price,omitempty" yaml:"max_buy_price,omitempty"`
}

func DefaultParameters() Parameters {
	return Parameters{
		Symbol:          "BTCUSDT",
		DecreasePct:     0.02,
		IncreasePct:     0.03,
		TxAmount:        50,
		AllocatedBudget: 500,
		CommissionPct:   DefaultCommissionPct,
	}
}

// Validate checks ranges the operator surface enforces.
func (p Parameters) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is empty", ErrInvalidParameter)
	}
	if p.DecreasePct <= 0 || p.DecreasePct >= 1 {
		return fmt.Errorf("%w: decrease_pct must be a fraction between 0 and 1, got %v", ErrInvalidParameter, p.DecreasePct)
	}
	if p.IncreasePct <= 0 || p.IncreasePct >= 1 {
		return fmt.Errorf("%w: increase_pct must be a fraction between 0 and 1, got %v", ErrInvalidParameter, p.IncreasePct)
	}
	if p.CommissionPct < 0 || p.CommissionPct >= 1 {
		return fmt.Errorf("%w: commission_pct must be a fraction in [0, 1), got %v", ErrInvalidParameter, p.CommissionPct)
	}
	if p.TxAmount <= 0 {
		return fmt.Errorf("%w: tx_amount must be positive", ErrInvalidParameter)
	}
	if p.AllocatedBudget <= 0 {
		return fmt.Errorf("%w: allocated_budget must be positive", ErrInvalidParameter)
	}
	if p.MaxBuyPrice != nil && *p.MaxBuyPrice <= 0 {
		return fmt.Errorf("%w: max_buy_price must be positive", ErrInvalidParameter)
	}
	return nil
}

// EstimatedBuyCost is the quote amount a buy is expected to consume, commission included.
func (p Parameters) EstimatedBuyCost() float64 {
	return p.TxAmount * (1 + p.CommissionPct)
}
