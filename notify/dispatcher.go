package notify

import (
	"context"
	"errors"
	"log"

	"listing_alerts/models"
)

// ErrDispatch marks a message the channel did not accept.
var ErrDispatch = errors.New("dispatch failed")

// Dispatcher delivers messages to a chat.
type Dispatcher interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error
}

// SendListing sends the alert for l to chatID, as a photo when it has a thumbnail.
func SendListing(ctx context.Context, d Dispatcher, chatID int64, l *models.Listing) error {
	msg := FormatAlert(l)
	if l.ThumbnailURL != "" {
		return d.SendPhoto(ctx, chatID, l.ThumbnailURL, msg)
	}
	return d.SendText(ctx, chatID, msg)
}

// LogDispatcher writes messages to the log instead of sending them.
// Used when no bot token is configured.
type LogDispatcher struct{}

func (LogDispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("Notify: [dry run] text to %d:\n%s", chatID, text)
	return nil
}

func (LogDispatcher) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("Notify: [dry run] photo %s to %d:\n%s", imageURL, chatID, caption)
	return nil
}
