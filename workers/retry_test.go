package workers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"listing_alerts/models"
	"listing_alerts/services"
	"listing_alerts/storage"
)

type flakyDispatcher struct {
	fail  bool
	sends int
}

func (d *flakyDispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	return d.send()
}

func (d *flakyDispatcher) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	return d.send()
}

func (d *flakyDispatcher) send() error {
	d.sends++
	if d.fail {
		return errors.New("telegram: too many requests")
	}
	return nil
}

type retryFixture struct {
	store      *storage.SQLiteStore
	dispatcher *flakyDispatcher
	worker     *RetryWorker
	user       *models.User
	listing    *models.Listing
}

func newRetryFixture(t *testing.T) *retryFixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "retry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user, err := store.GetOrCreateUser(ctx, &models.User{ChatID: 500})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	listing := &models.Listing{ExternalID: 900, Title: "Townhouse"}
	if _, err := store.UpsertListing(ctx, listing); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	d := &flakyDispatcher{}
	w := NewRetryWorker(
		store,
		services.NewListingService(store, nil, time.Minute),
		services.NewUserService(store),
		services.NewLedger(store),
		d,
		0,
	)
	return &retryFixture{store: store, dispatcher: d, worker: w, user: user, listing: listing}
}

func TestRetryWorker_DeliversAndRecords(t *testing.T) {
	f := newRetryFixture(t)
	ctx := context.Background()

	if err := f.store.EnqueueRetry(ctx, f.user.ID, f.listing.ID, "timeout"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if sent := f.worker.ProcessBatch(ctx, 10); sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	notified, err := f.store.HasNotified(ctx, f.user.ID, f.listing.ID)
	if err != nil || !notified {
		t.Fatalf("expected ledger entry, got %v %v", notified, err)
	}
	pending, _ := f.store.GetPendingRetries(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected retry removed, got %d", len(pending))
	}
}

func TestRetryWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newRetryFixture(t)
	ctx := context.Background()
	f.dispatcher.fail = true

	f.store.EnqueueRetry(ctx, f.user.ID, f.listing.ID, "timeout")

	for i := 0; i < models.MaxRetryAttempts+2; i++ {
		f.worker.ProcessBatch(ctx, 10)
	}
	if f.dispatcher.sends != models.MaxRetryAttempts {
		t.Fatalf("expected %d attempts, got %d", models.MaxRetryAttempts, f.dispatcher.sends)
	}
	notified, _ := f.store.HasNotified(ctx, f.user.ID, f.listing.ID)
	if notified {
		t.Fatalf("failed sends must not be recorded")
	}
}

func TestRetryWorker_DropsStaleRetries(t *testing.T) {
	f := newRetryFixture(t)
	ctx := context.Background()

	f.store.RecordNotification(ctx, f.user.ID, f.listing.ID)
	f.store.EnqueueRetry(ctx, f.user.ID, f.listing.ID, "timeout")
	f.store.EnqueueRetry(ctx, f.user.ID, 424242, "timeout")

	if sent := f.worker.ProcessBatch(ctx, 10); sent != 0 {
		t.Fatalf("expected no deliveries, got %d", sent)
	}
	if f.dispatcher.sends != 0 {
		t.Fatalf("expected no sends, got %d", f.dispatcher.sends)
	}
	pending, _ := f.store.GetPendingRetries(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected stale retries dropped, got %d", len(pending))
	}
}

func TestRetryWorker_TriggerRunsBatch(t *testing.T) {
	f := newRetryFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.store.EnqueueRetry(ctx, f.user.ID, f.listing.ID, "timeout")

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx, 10, time.Hour)
		close(done)
	}()
	f.worker.Trigger()
	f.worker.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := f.store.HasNotified(context.Background(), f.user.ID, f.listing.ID); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if ok, _ := f.store.HasNotified(context.Background(), f.user.ID, f.listing.ID); !ok {
		t.Fatalf("expected triggered batch to deliver")
	}
}
