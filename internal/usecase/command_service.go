package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

// Status is the operator view of the engine.
type Status struct {
	Params          domain.Parameters `json:"params"`
	RemainingBudget float64           `json:"remaining_budget"`
	SessionProfit   float64           `json:"session_profit"`
	ReferencePrice  *float64          `json:"reference_price,omitempty"`
	LastBuyPrice    *float64          `json:"last_position_buy_price,omitempty"`
	OpenSymbols     []string          `json:"open_symbols"`
	OpenLots        int               `json:"open_lots"`
	Invested        float64           `json:"invested"`
	Running         bool              `json:"running"`
	Scheduled       bool              `json:"scheduled"`
}

type LotView struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	BuyPrice      float64   `json:"buy_price"`
	HighestPrice  float64   `json:"highest_price"`
	TotalInvested float64   `json:"total_invested"`
	EntryTime     time.Time `json:"entry_time"`
}

// ParamsUpdate carries an optional change per parameter. Nil fields are left
// alone.
type ParamsUpdate struct {
	Symbol          *string  `json:"symbol,omitempty"`
	DecreasePct     *float64 `json:"decrease_pct,omitempty"`
	IncreasePct     *float64 `json:"increase_pct,omitempty"`
	CommissionPct   *float64 `json:"commission_pct,omitempty"`
	TxAmount        *float64 `json:"tx_amount,omitempty"`
	AllocatedBudget *float64 `json:"allocated_budget,omitempty"`
	MaxBuyPrice     *float64 `json:"max_buy_price,omitempty"`
	ClearMaxPrice   bool     `json:"clear_max_buy_price,omitempty"`
}

// CommandService is the operator surface shared by the Telegram bot and the
// HTTP API.
type CommandService struct {
	state    *StateService
	monitor  *PriceMonitor
	defaults domain.Parameters
	logger   *zap.Logger
}

func NewCommandService(state *StateService, monitor *PriceMonitor, defaults domain.Parameters, logger *zap.Logger) *CommandService {
	return &CommandService{
		state:    state,
		monitor:  monitor,
		defaults: defaults,
		logger:   logger,
	}
}

// SetSymbol switches the traded symbol and forgets the reference price.
func (s *CommandService) SetSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return s.UpdateParams(ctx, ParamsUpdate{Symbol: &symbol})
}

func (s *CommandService) SetDecreasePct(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{DecreasePct: &v})
}

func (s *CommandService) SetIncreasePct(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{IncreasePct: &v})
}

func (s *CommandService) SetCommissionPct(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{CommissionPct: &v})
}

func (s *CommandService) SetTxAmount(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{TxAmount: &v})
}

// SetBudget replaces the allocation and resets the remaining budget to it.
func (s *CommandService) SetBudget(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{AllocatedBudget: &v})
}

func (s *CommandService) SetMaxBuyPrice(ctx context.Context, v float64) error {
	return s.UpdateParams(ctx, ParamsUpdate{MaxBuyPrice: &v})
}

func (s *CommandService) ClearMaxBuyPrice(ctx context.Context) error {
	return s.UpdateParams(ctx, ParamsUpdate{ClearMaxPrice: true})
}

// UpdateParams applies all fields of u atomically: either every change is
// valid and persisted, or nothing changes.
func (s *CommandService) UpdateParams(ctx context.Context, u ParamsUpdate) error {
	return s.state.Mutate(ctx, func(st *domain.State) error {
		next := st.Params
		if u.Symbol != nil {
			next.Symbol = strings.ToUpper(strings.TrimSpace(*u.Symbol))
		}
		if u.DecreasePct != nil {
			next.DecreasePct = *u.DecreasePct
		}
		if u.IncreasePct != nil {
			next.IncreasePct = *u.IncreasePct
		}
		if u.CommissionPct != nil {
			next.CommissionPct = *u.CommissionPct
		}
		if u.TxAmount != nil {
			next.TxAmount = *u.TxAmount
		}
		if u.AllocatedBudget != nil {
			next.AllocatedBudget = *u.AllocatedBudget
		}
		if u.MaxBuyPrice != nil {
			v := *u.MaxBuyPrice
			next.MaxBuyPrice = &v
		}
		if u.ClearMaxPrice {
			next.MaxBuyPrice = nil
		}
		if err := next.Validate(); err != nil {
			return err
		}

		if next.Symbol != st.Params.Symbol {
			st.ClearReferencePrice()
		}
		if u.AllocatedBudget != nil {
			st.RemainingBudget = next.AllocatedBudget
		}
		st.Params = next

		s.logger.Info("Parameters updated",
			zap.String("symbol", next.Symbol),
			zap.Float64("decrease_pct", next.DecreasePct),
			zap.Float64("increase_pct", next.IncreasePct),
			zap.Float64("commission_pct", next.CommissionPct),
			zap.Float64("tx_amount", next.TxAmount),
			zap.Float64("allocated_budget", next.AllocatedBudget))
		return nil
	})
}

func (s *CommandService) Start(ctx context.Context) error {
	return s.monitor.Start(ctx)
}

func (s *CommandService) Stop(ctx context.Context) error {
	return s.monitor.Stop(ctx)
}

func (s *CommandService) Status() Status {
	snap := s.state.Snapshot()

	symbols := make([]string, 0, len(snap.Positions))
	for sym, lots := range snap.Positions {
		if len(lots) > 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	return Status{
		Params:          snap.Params,
		RemainingBudget: snap.RemainingBudget,
		SessionProfit:   snap.SessionProfit,
		ReferencePrice:  snap.LastReferencePrice,
		LastBuyPrice:    snap.LastPositionBuyPrice,
		OpenSymbols:     symbols,
		OpenLots:        snap.OpenLotCount(),
		Invested:        snap.Invested(),
		Running:         snap.Running,
		Scheduled:       s.monitor.Scheduled(),
	}
}

// Lots lists every open lot, ordered by symbol then opening order.
func (s *CommandService) Lots() []LotView {
	snap := s.state.Snapshot()

	symbols := make([]string, 0, len(snap.Positions))
	for sym := range snap.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var views []LotView
	for _, sym := range symbols {
		for _, l := range snap.Positions[sym] {
			views = append(views, LotView{
				ID:            l.ID,
				Symbol:        l.Symbol,
				Quantity:      l.Quantity,
				BuyPrice:      l.BuyPrice,
				HighestPrice:  l.HighestPrice,
				TotalInvested: l.TotalInvested,
				EntryTime:     l.EntryTime,
			})
		}
	}
	return views
}

// Reset stops the schedule and replaces the state with defaults. Open lots
// are forgotten, not sold.
func (s *CommandService) Reset(ctx context.Context) error {
	if err := s.defaults.Validate(); err != nil {
		return fmt.Errorf("invalid default parameters: %w", err)
	}
	s.monitor.Shutdown()
	s.state.Replace(ctx, domain.NewState(s.defaults))
	s.logger.Warn("State reset to defaults", zap.String("symbol", s.defaults.Symbol))
	return nil
}
