package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

type monitorFixture struct {
	ex       *MockExchange
	notifier *MockNotifier
	repo     *MockStateRepo
	state    *StateService
	monitor  *PriceMonitor
}

func newMonitorFixture(st *domain.State, interval time.Duration) *monitorFixture {
	f := &monitorFixture{
		ex:       &MockExchange{Price: 100},
		notifier: &MockNotifier{},
		repo:     &MockStateRepo{},
	}
	f.state = NewStateService(f.repo, st, zap.NewNop())
	eval := NewSignalEvaluator(f.ex, f.notifier, f.state, zap.NewNop())
	f.monitor = NewPriceMonitor(f.state, f.ex, eval, zap.NewNop(), WithPollInterval(interval))
	return f
}

func TestPriceMonitor_StartStop(t *testing.T) {
	f := newMonitorFixture(domain.NewState(testParams()), time.Hour)
	f.state.WithLock(func(st *domain.State) { st.SessionProfit = 12 })

	require.NoError(t, f.monitor.Start(context.Background()))
	assert.True(t, f.monitor.Scheduled())

	snap := f.state.Snapshot()
	assert.True(t, snap.Running)
	assert.Zero(t, snap.SessionProfit, "start resets session profit")
	assert.True(t, f.repo.saved().Running)

	err := f.monitor.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	require.NoError(t, f.monitor.Stop(context.Background()))
	assert.False(t, f.monitor.Scheduled())
	assert.False(t, f.repo.saved().Running)

	err = f.monitor.Stop(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestPriceMonitor_TicksDriveEvaluator(t *testing.T) {
	f := newMonitorFixture(domain.NewState(testParams()), 10*time.Millisecond)

	require.NoError(t, f.monitor.Start(context.Background()))
	defer f.monitor.Shutdown()

	assert.Eventually(t, func() bool {
		ref, ok := f.state.Snapshot().ReferencePrice()
		return ok && ref == 100
	}, time.Second, 5*time.Millisecond)
}

func TestPriceMonitor_SingleFlight(t *testing.T) {
	st := domain.NewState(testParams())
	st.Running = true
	f := newMonitorFixture(st, time.Hour)
	f.ex.Block()

	done := make(chan bool)
	go func() { done <- f.monitor.TryIterate(context.Background()) }()

	// First iteration is now parked inside CurrentPrice.
	<-f.ex.entered
	assert.False(t, f.monitor.TryIterate(context.Background()), "overlapping tick must be dropped")

	close(f.ex.release)
	assert.True(t, <-done)

	ref, ok := f.state.Snapshot().ReferencePrice()
	require.True(t, ok)
	assert.Equal(t, 100.0, ref)
}

func TestPriceMonitor_IterationExitsWhenStopped(t *testing.T) {
	f := newMonitorFixture(domain.NewState(testParams()), time.Hour)
	require.NoError(t, f.monitor.Start(context.Background()))

	f.state.WithLock(func(st *domain.State) { st.Running = false })
	assert.True(t, f.monitor.TryIterate(context.Background()))

	assert.False(t, f.monitor.Scheduled())
	_, ok := f.state.Snapshot().ReferencePrice()
	assert.False(t, ok, "a stopped engine does not evaluate")
}

func TestPriceMonitor_FetchErrorDoesNotStopLoop(t *testing.T) {
	st := domain.NewState(testParams())
	st.Running = true
	f := newMonitorFixture(st, time.Hour)
	f.ex.PriceErr = errors.New("timeout")

	assert.True(t, f.monitor.TryIterate(context.Background()))
	_, ok := f.state.Snapshot().ReferencePrice()
	assert.False(t, ok)

	f.ex.PriceErr = nil
	assert.True(t, f.monitor.TryIterate(context.Background()))
	_, ok = f.state.Snapshot().ReferencePrice()
	assert.True(t, ok)
}

func TestPriceMonitor_PersistFailureKeepsMemoryState(t *testing.T) {
	st := domain.NewState(testParams())
	st.Running = true
	f := newMonitorFixture(st, time.Hour)
	f.repo.SaveErr = errors.New("disk full")

	f.monitor.TryIterate(context.Background())
	f.ex.SetPrice(97)
	f.monitor.TryIterate(context.Background())

	snap := f.state.Snapshot()
	assert.Len(t, snap.Lots("BTCUSDT"), 1)
	assert.InDelta(t, 449.95, snap.RemainingBudget, 1e-9)
}
