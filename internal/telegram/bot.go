// Package telegram is the chat command surface of the bot. Commands are
// accepted only from the configured chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gobot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"github.com/vitos/crypto_dip_bot/internal/usecase"
	"go.uber.org/zap"
)

// Commands is the operator surface the bot drives.
type Commands interface {
	SetSymbol(ctx context.Context, symbol string) error
	SetDecreasePct(ctx context.Context, v float64) error
	SetIncreasePct(ctx context.Context, v float64) error
	SetCommissionPct(ctx context.Context, v float64) error
	SetTxAmount(ctx context.Context, v float64) error
	SetBudget(ctx context.Context, v float64) error
	SetMaxBuyPrice(ctx context.Context, v float64) error
	ClearMaxBuyPrice(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() usecase.Status
	Lots() []usecase.LotView
	Reset(ctx context.Context) error
}

// API is the part of *gobot.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config gobot.UpdateConfig) gobot.UpdatesChannel
	StopReceivingUpdates()
	Send(c gobot.Chattable) (gobot.Message, error)
}

const helpText = `Commands:
/setcoin <SYMBOL>
/set_decrease <fraction>   e.g. 0.02 for 2%
/set_increase <fraction>   e.g. 0.03 for 3%
/set_commission <fraction>
/set_amount <quote>
/set_budget <quote>
/set_max_price <price>
/clear_max_price
/start  /stop  /status  /lots  /reset`

type Bot struct {
	api      API
	chatID   int64
	commands Commands
	logger   *zap.Logger
}

func NewBot(api API, chatID int64, commands Commands, logger *zap.Logger) *Bot {
	return &Bot{api: api, chatID: chatID, commands: commands, logger: logger}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := gobot.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("Telegram command bot started", zap.Int64("chat_id", b.chatID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			chatID := up.Message.Chat.ID
			if chatID != b.chatID {
				b.logger.Warn("Ignoring command from unknown chat", zap.Int64("chat_id", chatID))
				continue
			}
			b.reply(chatID, b.Handle(ctx, up.Message.Text))
		}
	}
}

// Handle executes one command line and returns the reply text.
func (b *Bot) Handle(ctx context.Context, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return helpText
	}
	// "/status@my_bot" in group chats.
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	b.logger.Info("Command received", zap.String("command", cmd), zap.Strings("args", args))

	switch cmd {
	case "/help":
		return helpText
	case "/setcoin":
		if len(args) != 1 {
			return "Usage: /setcoin <SYMBOL>"
		}
		if err := b.commands.SetSymbol(ctx, args[0]); err != nil {
			return failure(err)
		}
		return fmt.Sprintf("Symbol set to %s", strings.ToUpper(args[0]))
	case "/set_decrease":
		return b.setFraction(ctx, args, b.commands.SetDecreasePct, "Decrease/trailing percent",
			"Please provide decrease percent as fractional value e.g. 0.02 for 2%")
	case "/set_increase":
		return b.setFraction(ctx, args, b.commands.SetIncreasePct, "Profit target percent",
			"Please provide increase percent as fractional value e.g. 0.03 for 3%")
	case "/set_commission":
		return b.setFraction(ctx, args, b.commands.SetCommissionPct, "Commission",
			"Please provide commission as fractional value e.g. 0.001 for 0.1%")
	case "/set_amount":
		return b.setAmount(ctx, args, b.commands.SetTxAmount, "Transaction amount", "Amount must be positive")
	case "/set_budget":
		return b.setAmount(ctx, args, b.commands.SetBudget, "Allocated budget", "Budget must be positive")
	case "/set_max_price":
		return b.setAmount(ctx, args, b.commands.SetMaxBuyPrice, "Max buy price", "Max buy price must be positive")
	case "/clear_max_price":
		if err := b.commands.ClearMaxBuyPrice(ctx); err != nil {
			return failure(err)
		}
		return "Max buy price cleared"
	case "/start":
		if err := b.commands.Start(ctx); err != nil {
			if errors.Is(err, domain.ErrAlreadyRunning) {
				return "Bot is already running"
			}
			return failure(err)
		}
		return "Bot started"
	case "/stop":
		if err := b.commands.Stop(ctx); err != nil {
			if errors.Is(err, domain.ErrNotRunning) {
				return "Bot is not running"
			}
			return failure(err)
		}
		return "Bot stopped"
	case "/status":
		return FormatStatus(b.commands.Status())
	case "/lots":
		return FormatLots(b.commands.Lots())
	case "/reset":
		if err := b.commands.Reset(ctx); err != nil {
			return failure(err)
		}
		return "State reset to defaults"
	default:
		return "Unknown command. Try /help"
	}
}

func (b *Bot) setFraction(ctx context.Context, args []string, set func(context.Context, float64) error, label, usage string) string {
	v, ok := parseArg(args)
	if !ok {
		return usage
	}
	if err := set(ctx, v); err != nil {
		if errors.Is(err, domain.ErrInvalidParameter) {
			return usage
		}
		return failure(err)
	}
	return fmt.Sprintf("%s set to %.2f%%", label, v*100)
}

func (b *Bot) setAmount(ctx context.Context, args []string, set func(context.Context, float64) error, label, usage string) string {
	v, ok := parseArg(args)
	if !ok {
		return usage
	}
	if err := set(ctx, v); err != nil {
		if errors.Is(err, domain.ErrInvalidParameter) {
			return usage
		}
		return failure(err)
	}
	return fmt.Sprintf("%s set to %s", label, strconv.FormatFloat(v, 'f', -1, 64))
}

func parseArg(args []string) (float64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func failure(err error) string {
	return "Error: " + err.Error()
}

func (b *Bot) reply(chatID int64, text string) {
	msg := gobot.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send telegram reply", zap.Error(err))
	}
}

func FormatStatus(s usecase.Status) string {
	p := s.Params
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\n", p.Symbol)
	fmt.Fprintf(&sb, "Decrease (trailing/buy trigger): %.2f%%\n", p.DecreasePct*100)
	fmt.Fprintf(&sb, "Increase (profit target): %.2f%%\n", p.IncreasePct*100)
	fmt.Fprintf(&sb, "Commission: %.3f%%\n", p.CommissionPct*100)
	fmt.Fprintf(&sb, "Tx amount: %g\n", p.TxAmount)
	fmt.Fprintf(&sb, "Allocated budget: %g\n", p.AllocatedBudget)
	if p.MaxBuyPrice != nil {
		fmt.Fprintf(&sb, "Max buy price: %g\n", *p.MaxBuyPrice)
	} else {
		sb.WriteString("Max buy price: none\n")
	}
	fmt.Fprintf(&sb, "Remaining budget: %.4f\n", s.RemainingBudget)
	fmt.Fprintf(&sb, "Session profit: %.4f\n", s.SessionProfit)
	if s.ReferencePrice != nil {
		fmt.Fprintf(&sb, "Reference price: %g\n", *s.ReferencePrice)
	}
	fmt.Fprintf(&sb, "Positions: %s (%d lots)\n", strings.Join(s.OpenSymbols, ", "), s.OpenLots)
	fmt.Fprintf(&sb, "Running: %t", s.Running)
	return sb.String()
}

func FormatLots(lots []usecase.LotView) string {
	if len(lots) == 0 {
		return "No open lots"
	}
	var sb strings.Builder
	for i, l := range lots {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s qty=%.8f buy=%.8f high=%.8f invested=%.4f since %s",
			i+1, l.Symbol, l.Quantity, l.BuyPrice, l.HighestPrice, l.TotalInvested,
			l.EntryTime.UTC().Format(time.RFC3339))
	}
	return sb.String()
}
