package notify

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// photoCaptionLimit is the Bot API cap on photo captions.
const photoCaptionLimit = 1024

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramDispatcher sends Markdown messages through the Telegram Bot API.
type TelegramDispatcher struct {
	bot botSender
}

// NewTelegram authenticates the bot token against the Bot API.
func NewTelegram(token string, client *http.Client) (*TelegramDispatcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &TelegramDispatcher{bot: bot}, nil
}

func (t *TelegramDispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: text to %d: %w", ErrDispatch, chatID, err)
	}
	return nil
}

// SendPhoto sends imageURL with caption. Captions over the API limit go out as
// a separate text message after the photo.
func (t *TelegramDispatcher) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	photo.ParseMode = tgbotapi.ModeMarkdown
	long := len([]rune(caption)) > photoCaptionLimit
	if !long {
		photo.Caption = caption
	}
	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("%w: photo to %d: %w", ErrDispatch, chatID, err)
	}
	if long {
		return t.SendText(ctx, chatID, caption)
	}
	return nil
}
