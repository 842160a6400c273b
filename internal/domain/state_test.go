package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_OpenCloseLot(t *testing.T) {
	st := NewState(DefaultParameters())
	st.OpenLot(&Lot{ID: "1", Symbol: "BTCUSDT", Quantity: 0.5, BuyPrice: 100, LastBuyPrice: 100, TotalInvested: 50.05})
	st.OpenLot(&Lot{ID: "2", Symbol: "BTCUSDT", Quantity: 0.5, BuyPrice: 98, LastBuyPrice: 98, TotalInvested: 49.049})

	assert.Equal(t, 2, st.OpenLotCount())
	assert.InDelta(t, 500-50.05-49.049, st.RemainingBudget, 1e-9)
	assert.Equal(t, 98.0, *st.LastPositionBuyPrice)

	lot, profit, ok := st.CloseLot("BTCUSDT", "1", 51)
	require.True(t, ok)
	assert.Equal(t, "1", lot.ID)
	assert.InDelta(t, 0.95, profit, 1e-9)
	assert.InDelta(t, 0.95, st.SessionProfit, 1e-9)
	assert.InDelta(t, 500-49.049, st.RemainingBudget, 1e-9)
	assert.Equal(t, 100.0, *st.LastPositionBuyPrice)
	require.Len(t, st.Lots("BTCUSDT"), 1)
	assert.Equal(t, "2", st.Lots("BTCUSDT")[0].ID)

	_, _, ok = st.CloseLot("BTCUSDT", "missing", 1)
	assert.False(t, ok)

	_, _, ok = st.CloseLot("BTCUSDT", "2", 49)
	require.True(t, ok)
	_, exists := st.Positions["BTCUSDT"]
	assert.False(t, exists)
	assert.InDelta(t, 500.0, st.RemainingBudget, 1e-9)
}

func TestState_CloneIsDeep(t *testing.T) {
	st := NewState(DefaultParameters())
	st.SetReferencePrice(100)
	maxPrice := 120.0
	st.Params.MaxBuyPrice = &maxPrice
	st.OpenLot(&Lot{ID: "1", Symbol: "BTCUSDT", Quantity: 1, BuyPrice: 100, HighestPrice: 100, TotalInvested: 100.1})

	c := st.Clone()
	c.Lots("BTCUSDT")[0].ObservePrice(150)
	c.SetReferencePrice(1)
	*c.Params.MaxBuyPrice = 1

	assert.Equal(t, 100.0, st.Lots("BTCUSDT")[0].HighestPrice)
	ref, _ := st.ReferencePrice()
	assert.Equal(t, 100.0, ref)
	assert.Equal(t, 120.0, *st.Params.MaxBuyPrice)
}

func TestLot_ObservePriceIsMonotonic(t *testing.T) {
	l := &Lot{HighestPrice: 100}
	l.ObservePrice(90)
	assert.Equal(t, 100.0, l.HighestPrice)
	l.ObservePrice(105)
	assert.Equal(t, 105.0, l.HighestPrice)
}

func TestOrder_AverageFillPrice(t *testing.T) {
	o := &Order{Fills: []Fill{{Price: 100, Quantity: 1}, {Price: 110, Quantity: 3}}}
	assert.InDelta(t, 107.5, o.AverageFillPrice(0), 1e-9)
	assert.InDelta(t, 4.0, o.FilledQuantity(), 1e-9)

	o = &Order{ExecutedQuantity: 2, CumulativeQuote: 210}
	assert.InDelta(t, 105.0, o.AverageFillPrice(0), 1e-9)
	assert.InDelta(t, 2.0, o.FilledQuantity(), 1e-9)

	o = &Order{}
	assert.Equal(t, 99.0, o.AverageFillPrice(99))
}

func TestParameters_Validate(t *testing.T) {
	assert.NoError(t, DefaultParameters().Validate())

	p := DefaultParameters()
	p.DecreasePct = 1.5
	assert.True(t, errors.Is(p.Validate(), ErrInvalidParameter))

	assert.InDelta(t, 50.05, DefaultParameters().EstimatedBuyCost(), 1e-9)
}
