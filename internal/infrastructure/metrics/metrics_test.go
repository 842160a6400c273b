package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_dip_bot/internal/domain"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.TickEvaluated()
	r.TickEvaluated()
	r.TickSkipped()
	r.OrderFilled(domain.SideBuy)
	r.LotClosed("profit target")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks.WithLabelValues("evaluated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.closes.WithLabelValues("profit target")))
}

func TestRecorder_ObserveStateAndHandler(t *testing.T) {
	r := NewRecorder()
	st := domain.NewState(domain.DefaultParameters())
	st.Running = true
	st.SessionProfit = 1.5
	st.OpenLot(&domain.Lot{ID: "a", Symbol: "BTCUSDT", Quantity: 1, BuyPrice: 50, TotalInvested: 50.05})

	r.ObserveState(st)

	assert.InDelta(t, 449.95, testutil.ToFloat64(r.remainingBudget), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.openLots))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.running))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dipbot_session_profit 1.5")
}
