// Package notify fans trade and lifecycle messages out to the operator's
// chat channels. Buy and sell messages are sent in the background; the
// restart message is delivered synchronously so recovery can wait for it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

const DefaultSendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Dispatcher implements domain.Notifier over a set of senders. With no
// senders every call is a silent success.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	logger  *zap.Logger

	wg sync.WaitGroup

	// restartMu guards restartSent, indexed like senders.
	restartMu   sync.Mutex
	restartSent []bool
}

func NewDispatcher(senders []Sender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		senders:     senders,
		timeout:     timeout,
		logger:      logger,
		restartSent: make([]bool, len(senders)),
	}
}

// Enabled reports whether at least one destination is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.senders) > 0
}

func (d *Dispatcher) NotifyBuy(ctx context.Context, ev domain.BuyEvent) {
	d.async(ctx, "BUY "+ev.Symbol, FormatBuy(ev))
}

func (d *Dispatcher) NotifySell(ctx context.Context, ev domain.SellEvent) {
	d.async(ctx, "SELL "+ev.Symbol, FormatSell(ev))
}

// NotifyRestart blocks until every sender that has not yet delivered the
// restart message has been tried. It fails if any of them failed; a retry
// only goes to those, so nobody gets the message twice.
func (d *Dispatcher) NotifyRestart(ctx context.Context, symbol string, openLots int) error {
	if !d.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.restartMu.Lock()
	defer d.restartMu.Unlock()

	title, message := "Bot restarted", FormatRestart(symbol, openLots)
	var errs []error
	for i, s := range d.senders {
		if d.restartSent[i] {
			continue
		}
		if err := d.send(ctx, s, title, message); err != nil {
			errs = append(errs, err)
			continue
		}
		d.restartSent[i] = true
	}
	return errors.Join(errs...)
}

// Wait blocks until background sends have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) async(ctx context.Context, title, message string) {
	if !d.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.dispatch(sendCtx, title, message); err != nil {
			d.logger.Warn("Notification not delivered", zap.String("title", title), zap.Error(err))
		}
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range d.senders {
		if err := d.send(ctx, s, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, s Sender, title, message string) error {
	if err := s.Send(ctx, title, message); err != nil {
		d.logger.Error("Sender failed", zap.String("sender", s.Name()), zap.Error(err))
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	d.logger.Debug("Notification sent", zap.String("sender", s.Name()), zap.String("title", title))
	return nil
}

func FormatBuy(ev domain.BuyEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bought %.8f %s at %.8f\n", ev.Quantity, ev.Symbol, ev.Price)
	fmt.Fprintf(&b, "Invested: %.2f (incl. commission)\n", ev.Invested)
	fmt.Fprintf(&b, "Remaining budget: %.2f\n", ev.RemainingBudget)
	fmt.Fprintf(&b, "Open lots: %d", ev.OpenLots)
	return b.String()
}

func FormatSell(ev domain.SellEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sold %.8f %s at %.8f (%s)\n", ev.Quantity, ev.Symbol, ev.SellPrice, ev.Reason)
	fmt.Fprintf(&b, "Bought at: %.8f\n", ev.BuyPrice)
	fmt.Fprintf(&b, "Profit: %.4f (%.2f%%)\n", ev.Profit, ev.ProfitPct)
	fmt.Fprintf(&b, "Session profit: %.4f\n", ev.SessionProfit)
	fmt.Fprintf(&b, "Remaining budget: %.2f", ev.RemainingBudget)
	return b.String()
}

func FormatRestart(symbol string, openLots int) string {
	return fmt.Sprintf("Trading on %s resumed after restart. Open lots: %d", symbol, openLots)
}
