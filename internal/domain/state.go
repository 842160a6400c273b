package domain

// State is the single mutable aggregate the engine owns. Callers must
// serialize access; see usecase.StateService.
type State struct {
	Params               Parameters
	RemainingBudget      float64
	Positions            map[string][]*Lot
	LastReferencePrice   *float64
	LastPositionBuyPrice *float64
	SessionProfit        float64
	Running              bool
}

// NewState returns a fresh, idle state with the whole budget spendable.
func NewState(params Parameters) *State {
	return &State{
		Params:          params,
		RemainingBudget: params.AllocatedBudget,
		Positions:       make(map[string][]*Lot),
	}
}

// ReferencePrice returns the buy anchor and whether it has been set.
func (s *State) ReferencePrice() (float64, bool) {
	if s.LastReferencePrice == nil {
		return 0, false
	}
	return *s.LastReferencePrice, true
}

func (s *State) SetReferencePrice(price float64) {
	s.LastReferencePrice = &price
}

func (s *State) ClearReferencePrice() {
	s.LastReferencePrice = nil
}

func (s *State) setLastPositionBuyPrice(price float64) {
	s.LastPositionBuyPrice = &price
}

// Lots returns the open lots of symbol in opening order.
func (s *State) Lots(symbol string) []*Lot {
	return s.Positions[symbol]
}

// OpenLotCount counts open lots across all symbols.
func (s *State) OpenLotCount() int {
	n := 0
	for _, lots := range s.Positions {
		n += len(lots)
	}
	return n
}

// Invested is the quote amount currently locked in open lots.
func (s *State) Invested() float64 {
	var total float64
	for _, lots := range s.Positions {
		for _, l := range lots {
			total += l.TotalInvested
		}
	}
	return total
}

// CanAfford reports whether cost fits in the remaining budget.
func (s *State) CanAfford(cost float64) bool {
	return s.RemainingBudget >= cost
}

// OpenLot appends the lot to its symbol's list and debits its invested amount.
func (s *State) OpenLot(lot *Lot) {
	if s.Positions == nil {
		s.Positions = make(map[string][]*Lot)
	}
	s.Positions[lot.Symbol] = append(s.Positions[lot.Symbol], lot)
	s.RemainingBudget -= lot.TotalInvested
	s.setLastPositionBuyPrice(lot.BuyPrice)
}

// CloseLot removes the lot and settles it against netRevenue. The invested
// amount returns to the budget; the profit goes to SessionProfit only.
func (s *State) CloseLot(symbol, lotID string, netRevenue float64) (*Lot, float64, bool) {
	lots := s.Positions[symbol]
	idx := -1
	for i, l := range lots {
		if l.ID == lotID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, 0, false
	}
	lot := lots[idx]

	remaining := make([]*Lot, 0, len(lots)-1)
	remaining = append(remaining, lots[:idx]...)
	remaining = append(remaining, lots[idx+1:]...)
	if len(remaining) == 0 {
		delete(s.Positions, symbol)
	} else {
		s.Positions[symbol] = remaining
	}

	profit := netRevenue - lot.TotalInvested
	s.RemainingBudget += lot.TotalInvested
	s.SessionProfit += profit
	s.setLastPositionBuyPrice(lot.LastBuyPrice)
	return lot, profit, true
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (s *State) Clone() *State {
	c := *s
	if s.Params.MaxBuyPrice != nil {
		v := *s.Params.MaxBuyPrice
		c.Params.MaxBuyPrice = &v
	}
	if s.LastReferencePrice != nil {
		v := *s.LastReferencePrice
		c.LastReferencePrice = &v
	}
	if s.LastPositionBuyPrice != nil {
		v := *s.LastPositionBuyPrice
		c.LastPositionBuyPrice = &v
	}
	c.Positions = make(map[string][]*Lot, len(s.Positions))
	for sym, lots := range s.Positions {
		cp := make([]*Lot, len(lots))
		for i, l := range lots {
			lc := *l
			cp[i] = &lc
		}
		c.Positions[sym] = cp
	}
	return &c
}
