// Package metrics exposes engine counters and gauges to Prometheus:
//
//	dipbot_ticks_total{result}        evaluated | skipped | failed
//	dipbot_orders_total{side}         filled market orders
//	dipbot_lots_closed_total{reason}  profit target | trailing stop
//	dipbot_remaining_budget           quote currency still spendable
//	dipbot_session_profit             realized profit since last start
//	dipbot_open_lots                  open lots across symbols
//	dipbot_running                    1 while the engine is started
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_dip_bot/internal/domain"
)

// Recorder implements usecase.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	ticks           *prometheus.CounterVec
	orders          *prometheus.CounterVec
	closes          *prometheus.CounterVec
	remainingBudget prometheus.Gauge
	sessionProfit   prometheus.Gauge
	openLots        prometheus.Gauge
	running         prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipbot_ticks_total",
				Help: "Monitor ticks by result",
			},
			[]string{"result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipbot_orders_total",
				Help: "Filled market orders",
			},
			[]string{"side"},
		),
		closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipbot_lots_closed_total",
				Help: "Closed lots by reason",
			},
			[]string{"reason"},
		),
		remainingBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dipbot_remaining_budget",
			Help: "Quote currency still available for buys",
		}),
		sessionProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dipbot_session_profit",
			Help: "Net realized profit since the engine was last started",
		}),
		openLots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dipbot_open_lots",
			Help: "Open lots across all symbols",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dipbot_running",
			Help: "1 while the engine is started",
		}),
	}

	r.registry.MustRegister(
		r.ticks, r.orders, r.closes,
		r.remainingBudget, r.sessionProfit, r.openLots, r.running,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TickEvaluated() { r.ticks.WithLabelValues("evaluated").Inc() }
func (r *Recorder) TickSkipped()   { r.ticks.WithLabelValues("skipped").Inc() }
func (r *Recorder) TickFailed()    { r.ticks.WithLabelValues("failed").Inc() }

func (r *Recorder) OrderFilled(side domain.Side) {
	r.orders.WithLabelValues(string(side)).Inc()
}

func (r *Recorder) LotClosed(reason string) {
	r.closes.WithLabelValues(reason).Inc()
}

func (r *Recorder) ObserveState(st *domain.State) {
	r.remainingBudget.Set(st.RemainingBudget)
	r.sessionProfit.Set(st.SessionProfit)
	r.openLots.Set(float64(st.OpenLotCount()))
	if st.Running {
		r.running.Set(1)
	} else {
		r.running.Set(0)
	}
}
