package usecase

import "github.com/vitos/crypto_dip_bot/internal/domain"

// Metrics receives engine events. The prometheus recorder in
// infrastructure/metrics implements it.
type Metrics interface {
	TickEvaluated()
	TickSkipped()
	TickFailed()
	OrderFilled(side domain.Side)
	LotClosed(reason string)
	ObserveState(st *domain.State)
}

type nopMetrics struct{}

func (nopMetrics) TickEvaluated()             {}
func (nopMetrics) TickSkipped()               {}
func (nopMetrics) TickFailed()                {}
func (nopMetrics) OrderFilled(domain.Side)    {}
func (nopMetrics) LotClosed(string)           {}
func (nopMetrics) ObserveState(*domain.State) {}
