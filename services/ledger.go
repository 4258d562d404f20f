package services

import (
	"context"

	"listing_alerts/models"
	"listing_alerts/storage"
)

// Ledger records which users were sent which listings. It only ever holds
// successful sends.
type Ledger struct {
	store storage.NotificationStore
}

func NewLedger(store storage.NotificationStore) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) HasNotified(ctx context.Context, userID, listingID int64) (bool, error) {
	return l.store.HasNotified(ctx, userID, listingID)
}

// Record is idempotent and returns the stored record on repeats.
func (l *Ledger) Record(ctx context.Context, userID, listingID int64) (*models.NotificationRecord, error) {
	return l.store.RecordNotification(ctx, userID, listingID)
}
