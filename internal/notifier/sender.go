package notifier

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Alerts are single lines; anything longer is truncated rather than
// chunked.
const telegramTextLimit = 4000

// Sender delivers one formatted alert line.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// TelegramSender sends alerts to one chat. The bot never polls; it is a
// pure outbound client.
type TelegramSender struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

func NewTelegramSender(token string, chatID int64, threadID int) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chatID: chatID, threadID: threadID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if len(text) > telegramTextLimit {
		text = text[:telegramTextLimit]
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	return err
}

// SenderFunc wraps fn as a Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }
