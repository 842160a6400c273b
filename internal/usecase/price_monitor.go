package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

const DefaultPollInterval = 2 * time.Second

// PriceMonitor drives the SignalEvaluator on a fixed interval. At most one
// iteration runs at a time; a tick that fires while one is in flight is
// dropped.
type PriceMonitor struct {
	state     *StateService
	exchange  domain.ExchangeGateway
	evaluator *SignalEvaluator
	metrics   Metrics
	logger    *zap.Logger
	interval  time.Duration

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

type MonitorOption func(*PriceMonitor)

func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *PriceMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithMonitorMetrics(metrics Metrics) MonitorOption {
	return func(m *PriceMonitor) { m.metrics = metrics }
}

func NewPriceMonitor(state *StateService, exchange domain.ExchangeGateway, evaluator *SignalEvaluator, logger *zap.Logger, opts ...MonitorOption) *PriceMonitor {
	m := &PriceMonitor{
		state:     state,
		exchange:  exchange,
		evaluator: evaluator,
		metrics:   nopMetrics{},
		logger:    logger,
		interval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start marks the engine running, resets the session profit and schedules
// iterations.
func (m *PriceMonitor) Start(ctx context.Context) error {
	var symbol string
	err := m.state.Mutate(ctx, func(st *domain.State) error {
		if st.Running {
			return domain.ErrAlreadyRunning
		}
		st.Running = true
		st.SessionProfit = 0
		symbol = st.Params.Symbol
		m.schedule()
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyRunning) {
		m.logger.Warn("Start ignored: monitor already running")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	m.logger.Info("Price monitor started", zap.String("symbol", symbol), zap.Duration("interval", m.interval))
	return nil
}

// Stop clears the running flag and cancels the schedule. An iteration that
// is already in flight finishes its exchange call.
func (m *PriceMonitor) Stop(ctx context.Context) error {
	err := m.state.Mutate(ctx, func(st *domain.State) error {
		if !st.Running {
			return domain.ErrNotRunning
		}
		st.Running = false
		m.cancelSchedule()
		return nil
	})
	if errors.Is(err, domain.ErrNotRunning) {
		m.logger.Warn("Stop ignored: monitor not running")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to stop monitor: %w", err)
	}
	m.logger.Info("Price monitor stopped")
	return nil
}

// Resume schedules iterations for a state that is already marked running,
// without touching the session profit. Used after a restart.
func (m *PriceMonitor) Resume() {
	running := false
	m.state.WithLock(func(st *domain.State) {
		running = st.Running
		if running {
			m.schedule()
		}
	})
	if !running {
		m.logger.Info("Resume skipped: engine was stopped in the meantime")
		return
	}
	m.logger.Info("Price monitor resumed")
}

// Shutdown cancels the schedule but keeps the running flag, so the next
// process start goes through recovery.
func (m *PriceMonitor) Shutdown() {
	m.cancelSchedule()
}

// Scheduled reports whether the ticker loop is active.
func (m *PriceMonitor) Scheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *PriceMonitor) Interval() time.Duration {
	return m.interval
}

// schedule and cancelSchedule are called with the state lock held, so the
// schedule always matches the running flag.
func (m *PriceMonitor) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	// Detached from the caller: Start usually comes from a request context.
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
}

func (m *PriceMonitor) cancelSchedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *PriceMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// In-flight orders are never aborted by Stop.
			go m.TryIterate(context.WithoutCancel(ctx))
		case <-ctx.Done():
			m.logger.Debug("Price monitor loop exited")
			return
		}
	}
}

// TryIterate runs one iteration unless another one is in flight. It reports
// whether the iteration ran.
func (m *PriceMonitor) TryIterate(ctx context.Context) bool {
	if !m.busy.CompareAndSwap(false, true) {
		m.metrics.TickSkipped()
		m.logger.Debug("Tick skipped: previous iteration still running")
		return false
	}
	defer m.busy.Store(false)

	m.iterate(ctx)
	return true
}

func (m *PriceMonitor) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.TickFailed()
			m.logger.Error("Monitor iteration panicked", zap.Any("panic", r))
		}
	}()

	var (
		running bool
		symbol  string
	)
	m.state.WithLock(func(st *domain.State) {
		running = st.Running
		symbol = st.Params.Symbol
		if !running {
			m.cancelSchedule()
		}
	})
	if !running {
		return
	}

	price, err := m.exchange.CurrentPrice(ctx, symbol)
	if err != nil {
		m.metrics.TickFailed()
		m.logger.Error("Failed to fetch price", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if price <= 0 {
		m.metrics.TickFailed()
		m.logger.Warn("Ignoring non-positive price", zap.String("symbol", symbol), zap.Float64("price", price))
		return
	}

	m.state.WithLock(func(st *domain.State) {
		// A stop or symbol change may have landed while the price was in flight.
		if !st.Running || st.Params.Symbol != symbol {
			return
		}
		m.evaluator.Evaluate(ctx, st, price)
		m.metrics.ObserveState(st)
	})
	m.metrics.TickEvaluated()
}
