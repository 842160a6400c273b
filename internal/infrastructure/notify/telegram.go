package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of *tgbotapi.BotAPI the sender uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers to one chat through an already connected bot.
type TelegramSender struct {
	api    MessageSender
	chatID int64
}

func NewTelegramSender(api MessageSender, chatID int64) *TelegramSender {
	return &TelegramSender{api: api, chatID: chatID}
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("%s\n%s", title, message))
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
