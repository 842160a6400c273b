package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

type fakeBinance struct {
	mu         sync.Mutex
	price      string
	step       string
	orderCalls int
	lastOrder  map[string]string
	rejectWith string
	infoCalls  int
}

func (f *fakeBinance) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode([]map[string]string{{"symbol": r.URL.Query().Get("symbol"), "price": f.price}})
	})
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.infoCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbols": []map[string]interface{}{{
				"symbol": "BTCUSDT",
				"filters": []map[string]string{
					{"filterType": "LOT_SIZE", "minQty": f.step, "maxQty": "9000", "stepSize": f.step},
				},
			}},
		})
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.orderCalls++
		_ = r.ParseForm()
		f.lastOrder = map[string]string{}
		for k := range r.Form {
			f.lastOrder[k] = r.Form.Get(k)
		}
		if f.rejectWith != "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"code": -2010, "msg": f.rejectWith})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol":              "BTCUSDT",
			"orderId":             42,
			"status":              "FILLED",
			"side":                f.lastOrder["side"],
			"executedQty":         "0.00051",
			"cummulativeQuoteQty": "49.98",
			"fills": []map[string]string{
				{"price": "97000", "qty": "0.0003", "commission": "0", "commissionAsset": "BNB"},
				{"price": "99500", "qty": "0.00021", "commission": "0", "commissionAsset": "BNB"},
			},
		})
	})
	return mux
}

type staticSource struct {
	price float64
	at    time.Time
}

func (s staticSource) LastPrice(string) (float64, time.Time, bool) {
	return s.price, s.at, s.price > 0
}

func newTestGateway(t *testing.T, f *fakeBinance, opts ...GatewayOption) *BinanceGateway {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewBinanceGateway("key", "secret", false, zap.NewNop(), append([]GatewayOption{WithBaseURL(srv.URL)}, opts...)...)
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		qty, step, want string
	}{
		{"0.000515463", "0.00001", "0.00051"},
		{"1.99", "1", "1"},
		{"0.000009", "0.00001", "0"},
		{"12.3456", "0", "12.3456"},
	}
	for _, tt := range tests {
		got := RoundToStep(decimal.RequireFromString(tt.qty), decimal.RequireFromString(tt.step))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s/%s = %s", tt.qty, tt.step, got)
	}
}

func TestBinanceGateway_CurrentPrice(t *testing.T) {
	f := &fakeBinance{price: "97123.45", step: "0.00001"}
	g := newTestGateway(t, f)

	price, err := g.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 97123.45, price)
}

func TestBinanceGateway_CurrentPricePrefersFreshStream(t *testing.T) {
	f := &fakeBinance{price: "100", step: "0.00001"}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh := newTestGateway(t, f, WithPriceStream(staticSource{price: 101, at: now.Add(-time.Second)}, 5*time.Second))
	fresh.now = func() time.Time { return now }
	price, err := fresh.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)

	stale := newTestGateway(t, f, WithPriceStream(staticSource{price: 101, at: now.Add(-time.Minute)}, 5*time.Second))
	stale.now = func() time.Time { return now }
	price, err = stale.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestBinanceGateway_MarketBuy(t *testing.T) {
	f := &fakeBinance{price: "97000", step: "0.00001"}
	g := newTestGateway(t, f)

	order, err := g.MarketBuy(context.Background(), "BTCUSDT", 50)
	require.NoError(t, err)

	assert.Equal(t, "42", order.ID)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.InDelta(t, 49.98, order.CumulativeQuote, 1e-12)
	assert.InDelta(t, 0.00051, order.FilledQuantity(), 1e-12)
	assert.InDelta(t, (97000*0.0003+99500*0.00021)/0.00051, order.AverageFillPrice(0), 1e-6)

	assert.Equal(t, "BUY", f.lastOrder["side"])
	assert.Equal(t, "MARKET", f.lastOrder["type"])
	assert.Equal(t, "50", f.lastOrder["quoteOrderQty"])
	assert.Equal(t, "FULL", f.lastOrder["newOrderRespType"])

	_, err = g.MarketBuy(context.Background(), "BTCUSDT", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, f.infoCalls, "lot step is cached")
}

func TestBinanceGateway_MarketBuyBelowStepIsRejected(t *testing.T) {
	f := &fakeBinance{price: "97000", step: "0.001"}
	g := newTestGateway(t, f)

	order, err := g.MarketBuy(context.Background(), "BTCUSDT", 5)
	assert.Nil(t, order)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Zero(t, f.orderCalls)
}

func TestBinanceGateway_MarketSellRoundsDown(t *testing.T) {
	f := &fakeBinance{price: "97000", step: "0.00001"}
	g := newTestGateway(t, f)

	_, err := g.MarketSell(context.Background(), "BTCUSDT", 0.000515463)
	require.NoError(t, err)
	assert.Equal(t, "SELL", f.lastOrder["side"])
	assert.Equal(t, "0.00051", f.lastOrder["quantity"])
}

func TestBinanceGateway_APIErrorIsRejection(t *testing.T) {
	f := &fakeBinance{price: "97000", step: "0.00001", rejectWith: "Account has insufficient balance"}
	g := newTestGateway(t, f)

	order, err := g.MarketSell(context.Background(), "BTCUSDT", 1)
	assert.Nil(t, order)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestBinanceGateway_UnknownSymbol(t *testing.T) {
	f := &fakeBinance{price: "1", step: "0.00001"}
	g := newTestGateway(t, f)

	_, err := g.LotStep(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrSymbolNotFound)
}
