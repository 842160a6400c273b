package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_dip_bot/internal/domain"
)

func TestJSONStateStore_MissingFile(t *testing.T) {
	store := NewJSONStateStore(filepath.Join(t.TempDir(), "bot_state.json"))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestJSONStateStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONStateStore(filepath.Join(dir, "state", "bot_state.json"))
	ctx := context.Background()

	params := domain.DefaultParameters()
	maxPrice := 65000.123456789
	params.MaxBuyPrice = &maxPrice
	st := domain.NewState(params)
	st.SetReferencePrice(0.1 + 0.2)
	st.OpenLot(&domain.Lot{
		ID:            "a",
		Symbol:        "BTCUSDT",
		Quantity:      50.0 / 97.0,
		BuyPrice:      97,
		LastBuyPrice:  97,
		HighestPrice:  99.5,
		EntryTime:     time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC),
		TotalInvested: 50.05,
	})
	st.OpenLot(&domain.Lot{ID: "b", Symbol: "BTCUSDT", Quantity: 1.0 / 3.0, BuyPrice: 95, LastBuyPrice: 95, HighestPrice: 95, TotalInvested: 31.697})
	st.SessionProfit = 1.4448453608
	st.Running = true

	require.NoError(t, store.Save(ctx, st))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, st.Params.Symbol, loaded.Params.Symbol)
	assert.InDelta(t, st.Params.CommissionPct, loaded.Params.CommissionPct, 1e-10)
	require.NotNil(t, loaded.Params.MaxBuyPrice)
	assert.InDelta(t, maxPrice, *loaded.Params.MaxBuyPrice, 1e-10)
	assert.InDelta(t, st.RemainingBudget, loaded.RemainingBudget, 1e-10)
	assert.InDelta(t, *st.LastReferencePrice, *loaded.LastReferencePrice, 1e-10)
	assert.InDelta(t, *st.LastPositionBuyPrice, *loaded.LastPositionBuyPrice, 1e-10)
	assert.InDelta(t, st.SessionProfit, loaded.SessionProfit, 1e-10)
	assert.True(t, loaded.Running)

	lots := loaded.Lots("BTCUSDT")
	require.Len(t, lots, 2)
	for i, want := range st.Lots("BTCUSDT") {
		got := lots[i]
		assert.Equal(t, want.ID, got.ID)
		assert.InDelta(t, want.Quantity, got.Quantity, 1e-10)
		assert.InDelta(t, want.BuyPrice, got.BuyPrice, 1e-10)
		assert.InDelta(t, want.HighestPrice, got.HighestPrice, 1e-10)
		assert.InDelta(t, want.TotalInvested, got.TotalInvested, 1e-10)
		assert.True(t, want.EntryTime.Equal(got.EntryTime))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestJSONStateStore_BoundedPrecision(t *testing.T) {
	store := NewJSONStateStore(filepath.Join(t.TempDir(), "bot_state.json"))
	st := domain.NewState(domain.DefaultParameters())
	st.RemainingBudget = 449.95000000000005

	require.NoError(t, store.Save(context.Background(), st))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"remaining_budget": 449.95`)
	assert.NotContains(t, string(data), "449.95000000000005")
	assert.Contains(t, string(data), `"version": 2`)
}

func TestJSONStateStore_LegacyUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	legacy := `{
  "params": {"symbol": "ETHUSDT", "decrease_pct": 0.02, "increase_pct": 0.03, "tx_amount": 50.0, "allocated_budget": 500.0},
  "remaining_budget": 450.0,
  "positions": {
    "ETHUSDT": {"symbol": "ETHUSDT", "quantity": 0.025, "buy_price": 2000.0, "highest_price": 2100.0, "entry_time": "2024-05-01T10:20:30.123456"}
  },
  "last_reference_price": 2000.0,
  "running": true
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	st, err := NewJSONStateStore(path).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.Equal(t, domain.DefaultCommissionPct, st.Params.CommissionPct)
	assert.Nil(t, st.Params.MaxBuyPrice)
	assert.Equal(t, 450.0, st.RemainingBudget)
	assert.True(t, st.Running)
	assert.Nil(t, st.LastPositionBuyPrice)

	lots := st.Lots("ETHUSDT")
	require.Len(t, lots, 1)
	lot := lots[0]
	assert.NotEmpty(t, lot.ID)
	assert.Equal(t, 2000.0, lot.LastBuyPrice)
	assert.Equal(t, 2100.0, lot.HighestPrice)
	assert.InDelta(t, 50.0, lot.TotalInvested, 1e-10)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC), lot.EntryTime)
}

func TestJSONStateStore_MissingRemainingBudgetDefaultsToAllocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"params": {"symbol": "BTCUSDT", "allocated_budget": 800}}`), 0o644))

	st, err := NewJSONStateStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800.0, st.RemainingBudget)
	assert.Empty(t, st.Positions)
	assert.NotNil(t, st.Positions)
}

func TestJSONStateStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := NewJSONStateStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestJSONStateStore_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	body := `{"version": 3, "params": {"symbol": "BTCUSDT", "decrease_pct": 0.02, "increase_pct": 0.03, "tx_amount": 50, "allocated_budget": 500}, "running": true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	st, err := NewJSONStateStore(path).Load(context.Background())
	assert.Nil(t, st)
	require.ErrorIs(t, err, ErrUnsupportedStateVersion)
	assert.Contains(t, err.Error(), "3")
}
