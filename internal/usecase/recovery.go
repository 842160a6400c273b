package usecase

import (
	"context"
	"time"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

const DefaultRestartRetryInterval = 30 * time.Second

// RecoveryCoordinator resumes a monitor that was running when the process
// died, but only after the operator has been told about the restart.
type RecoveryCoordinator struct {
	state     *StateService
	monitor   *PriceMonitor
	notifier  domain.Notifier
	readiness *Readiness
	logger    *zap.Logger

	retryInterval time.Duration
}

func NewRecoveryCoordinator(state *StateService, monitor *PriceMonitor, notifier domain.Notifier, readiness *Readiness, retryInterval time.Duration, logger *zap.Logger) *RecoveryCoordinator {
	if retryInterval <= 0 {
		retryInterval = DefaultRestartRetryInterval
	}
	return &RecoveryCoordinator{
		state:         state,
		monitor:       monitor,
		notifier:      notifier,
		readiness:     readiness,
		logger:        logger,
		retryInterval: retryInterval,
	}
}

// Recover reports whether a resume was scheduled. The resume itself happens
// once NotifyRestart succeeds; delivery is retried until ctx is done.
func (c *RecoveryCoordinator) Recover(ctx context.Context) bool {
	snap := c.state.Snapshot()
	if !snap.Running {
		c.logger.Info("Engine idle, waiting for start command", zap.String("symbol", snap.Params.Symbol))
		return false
	}

	symbol := snap.Params.Symbol
	openLots := len(snap.Lots(symbol))
	c.logger.Info("Engine was running before restart, resume deferred until operator is notified",
		zap.String("symbol", symbol),
		zap.Int("open_lots", openLots))

	c.readiness.OnReady(c.monitor.Resume)
	go c.announce(ctx, symbol, openLots)
	return true
}

func (c *RecoveryCoordinator) announce(ctx context.Context, symbol string, openLots int) {
	for {
		err := c.notifier.NotifyRestart(ctx, symbol, openLots)
		if err == nil {
			c.logger.Info("Restart notification delivered", zap.String("symbol", symbol))
			c.readiness.Fire()
			return
		}
		c.logger.Warn("Restart notification failed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", c.retryInterval))

		select {
		case <-ctx.Done():
			c.logger.Warn("Recovery abandoned before restart notification was delivered")
			return
		case <-time.After(c.retryInterval):
		}
	}
}
