package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"listing_alerts/models"
	"listing_alerts/notify"
	"listing_alerts/services"
	"listing_alerts/storage"
)

// RetryStore is the slice of the ops store the retry worker needs.
type RetryStore interface {
	GetPendingRetries(ctx context.Context, limit int) ([]models.NotificationRetry, error)
	UpdateRetry(ctx context.Context, r *models.NotificationRetry) error
	DeleteRetry(ctx context.Context, id int64) error
}

// RetryWorker re-sends alerts whose first dispatch failed. A send that
// succeeds is recorded in the ledger; one that fails MaxRetryAttempts times
// is marked failed and left for inspection.
type RetryWorker struct {
	store      RetryStore
	listings   *services.ListingService
	users      *services.UserService
	ledger     *services.Ledger
	dispatcher notify.Dispatcher
	delay      time.Duration
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewRetryWorker(
	store RetryStore,
	listings *services.ListingService,
	users *services.UserService,
	ledger *services.Ledger,
	dispatcher notify.Dispatcher,
	delay time.Duration,
) *RetryWorker {
	return &RetryWorker{
		store:      store,
		listings:   listings,
		users:      users,
		ledger:     ledger,
		dispatcher: dispatcher,
		delay:      delay,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *RetryWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *RetryWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the retry worker loop
func (w *RetryWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Retry worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.triggerCh:
			log.Println("Retry worker triggered manually")
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

// ProcessBatch attempts up to batchSize pending retries and returns how many
// were delivered.
func (w *RetryWorker) ProcessBatch(ctx context.Context, batchSize int) int {
	retries, err := w.store.GetPendingRetries(ctx, batchSize)
	if err != nil {
		log.Printf("Retry worker: query error: %v", err)
		return 0
	}
	if len(retries) == 0 {
		return 0
	}

	log.Printf("Retry worker: processing %d pending notifications", len(retries))

	var sent, failed, dropped int
	for i := range retries {
		if ctx.Err() != nil {
			break
		}
		r := &retries[i]

		err := w.retry(ctx, r)
		switch {
		case err == nil:
			sent++
			w.sleep(ctx)
		case errors.Is(err, errDropRetry):
			dropped++
			if err := w.store.DeleteRetry(ctx, r.ID); err != nil {
				log.Printf("Retry worker: delete %d: %v", r.ID, err)
			}
		default:
			failed++
			r.Attempts++
			r.LastError = err.Error()
			if r.Attempts >= models.MaxRetryAttempts {
				r.Status = models.RetryStatusFailed
				w.logFunc(models.LogLevelError, fmt.Sprintf("Retry worker: giving up on user %d listing %d after %d attempts: %v",
					r.UserID, r.ListingID, r.Attempts, err))
			}
			if err := w.store.UpdateRetry(ctx, r); err != nil {
				log.Printf("Retry worker: update %d: %v", r.ID, err)
			}
		}
	}

	log.Printf("Retry worker: sent %d, failed %d, dropped %d", sent, failed, dropped)
	return sent
}

var errDropRetry = errors.New("retry no longer applicable")

func (w *RetryWorker) retry(ctx context.Context, r *models.NotificationRetry) error {
	listing, err := w.listings.Get(ctx, r.ListingID)
	if errors.Is(err, storage.ErrNotFound) {
		return errDropRetry
	}
	if err != nil {
		return err
	}

	user, err := w.users.Get(ctx, r.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return errDropRetry
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		return errDropRetry
	}

	notified, err := w.ledger.HasNotified(ctx, r.UserID, r.ListingID)
	if err != nil {
		return err
	}
	if notified {
		return errDropRetry
	}

	if err := notify.SendListing(ctx, w.dispatcher, user.ChatID, listing); err != nil {
		return err
	}

	if _, err := w.ledger.Record(ctx, r.UserID, r.ListingID); err != nil {
		log.Printf("Retry worker: sent to user %d but recording failed: %v", r.UserID, err)
	}
	if err := w.store.DeleteRetry(ctx, r.ID); err != nil {
		log.Printf("Retry worker: delete %d: %v", r.ID, err)
	}
	w.logFunc(models.LogLevelInfo, fmt.Sprintf("Retry worker: delivered listing %d to user %d", r.ListingID, r.UserID))
	return nil
}

func (w *RetryWorker) sleep(ctx context.Context) {
	if w.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.delay):
	}
}
