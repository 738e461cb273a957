package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"go.uber.org/zap"
)

// TelegramSink posts operator notifications to a fixed set of chats.
type TelegramSink struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewTelegramSink authenticates the bot token.
func NewTelegramSink(token string, chatIDs []int64) (*TelegramSink, error) {
	if len(chatIDs) == 0 {
		return nil, errors.New("telegram: no admin chat ids")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{api: api, chatIDs: chatIDs}, nil
}

// Deliver sends n to every configured chat; the first failure is returned after all attempts.
func (t *TelegramSink) Deliver(_ context.Context, n Notification) error {
	var firstErr error
	for _, id := range t.chatIDs {
		msg := tgbotapi.NewMessage(id, n.Title+"\n"+n.Message)
		if _, err := t.api.Send(msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telegram chat %d: %w", id, err)
		}
	}
	return firstErr
}

// Outbox persists user notifications for the delivery service.
type Outbox interface {
	Insert(ctx context.Context, accountID int64, title, message string) error
}

// OutboxSink writes user notifications into an outbox table.
func OutboxSink(outbox Outbox) Sink {
	return SinkFunc(func(ctx context.Context, n Notification) error {
		return outbox.Insert(ctx, n.AccountID, n.Title, n.Message)
	})
}

// LogSink writes notifications to the service log.
func LogSink(logger *zap.Logger) Sink {
	return SinkFunc(func(_ context.Context, n Notification) error {
		logger.Info("notification",
			zap.Bool("admin", n.Admin),
			zap.Int64("account_id", n.AccountID),
			zap.String("title", n.Title),
			zap.String("message", n.Message),
		)
		return nil
	})
}
