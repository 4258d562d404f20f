package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"listing_alerts/models"
	"listing_alerts/services"
	"listing_alerts/source"
	"listing_alerts/storage"
)

type fakeSource struct {
	mu       sync.Mutex
	listings []models.RawListing
	err      error
	panicMsg string
	calls    int
}

func (f *fakeSource) FetchAll(ctx context.Context) ([]models.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.RawListing, len(f.listings))
	copy(out, f.listings)
	return out, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentMessage struct {
	chatID int64
	text   string
	photo  string
}

type fakeDispatcher struct {
	sent    []sentMessage
	failFor map[int64]bool
	onSend  func(chatID int64)
}

func (f *fakeDispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	return f.send(ctx, sentMessage{chatID: chatID, text: text})
}

func (f *fakeDispatcher) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	return f.send(ctx, sentMessage{chatID: chatID, text: caption, photo: imageURL})
}

func (f *fakeDispatcher) send(ctx context.Context, m sentMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failFor[m.chatID] {
		return fmt.Errorf("chat %d unreachable", m.chatID)
	}
	if f.onSend != nil {
		f.onSend(m.chatID)
	}
	f.sent = append(f.sent, m)
	return nil
}

type cycleFixture struct {
	store      *storage.SQLiteStore
	src        *fakeSource
	dispatcher *fakeDispatcher
	cycle      *AlertCycle
	clock      time.Time
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cycle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &cycleFixture{
		store:      store,
		src:        &fakeSource{},
		dispatcher: &fakeDispatcher{failFor: map[int64]bool{}},
		clock:      time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.cycle = NewAlertCycle(
		CycleConfig{CheckInterval: 30 * time.Minute, DispatchDelay: 500 * time.Millisecond},
		NewState(store),
		f.src,
		services.NewListingService(store, nil, time.Minute),
		services.NewAlertService(store, store),
		services.NewMatcher(store, store),
		services.NewLedger(store),
		f.dispatcher,
		store,
	)
	f.cycle.now = func() time.Time { return f.clock }
	f.cycle.sleep = func(context.Context, time.Duration) {}
	return f
}

func (f *cycleFixture) addUser(t *testing.T, chatID int64, filter models.AlertFilter) *models.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.GetOrCreateUser(ctx, &models.User{ChatID: chatID})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.store.CreateAlert(ctx, u.ID, filter); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return u
}

func rawListing(id int64, title, acf string) models.RawListing {
	return models.RawListing{
		ID:    id,
		Title: models.RenderedText{Rendered: title},
		Link:  fmt.Sprintf("https://example.com/p/%d", id),
		ACF:   json.RawMessage(acf),
		Data:  json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestCycle_SecondRunWithinIntervalSkipsFetch(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	run, err := f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if run == nil || run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %+v", run)
	}

	f.clock = f.clock.Add(5 * time.Minute)
	run, err = f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run != nil {
		t.Fatalf("expected second run to be skipped")
	}
	if f.src.Calls() != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.src.Calls())
	}

	f.clock = f.clock.Add(25 * time.Minute)
	if _, err := f.cycle.Run(ctx, false); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if f.src.Calls() != 2 {
		t.Fatalf("expected fetch once the interval elapsed, got %d calls", f.src.Calls())
	}

	last, err := f.store.GetLastSuccess(ctx)
	if err != nil {
		t.Fatalf("get last success: %v", err)
	}
	if !last.Equal(f.clock) {
		t.Fatalf("expected persisted last success %v, got %v", f.clock, last)
	}
}

func TestCycle_ForceBypassesGate(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	f.cycle.Run(ctx, false)
	f.clock = f.clock.Add(time.Minute)
	run, err := f.cycle.Run(ctx, true)
	if err != nil || run == nil {
		t.Fatalf("expected forced run, got %+v %v", run, err)
	}
	if f.src.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", f.src.Calls())
	}
}

func TestCycle_FetchFailureDoesNotConsumeWindow(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	f.src.err = fmt.Errorf("%w: status 502", source.ErrFetch)
	run, err := f.cycle.Run(ctx, false)
	if !errors.Is(err, source.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if !f.cycle.State().LastSuccess().IsZero() {
		t.Fatalf("failed fetch must not record a success")
	}

	f.src.err = nil
	f.clock = f.clock.Add(time.Minute)
	run, err = f.cycle.Run(ctx, false)
	if err != nil || run == nil {
		t.Fatalf("expected retry on next poll, got %+v %v", run, err)
	}

	runs, err := f.store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[1].Status != models.RunStatusFailed || runs[0].Status != models.RunStatusCompleted {
		t.Fatalf("unexpected run history %+v", runs)
	}
}

func TestCycle_NotifiesMatchingUsersOnce(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	alice := f.addUser(t, 1001, models.AlertFilter{Location: strPtr("Lavington"), MinBedrooms: intPtr(3)})
	f.addUser(t, 1001, models.AlertFilter{})
	f.addUser(t, 1002, models.AlertFilter{Location: strPtr("Kilimani")})

	f.src.listings = []models.RawListing{
		rawListing(1, "Garden Villa", `{"location":"Lavington","price":"15000000","bedrooms":"4 Bedrooms"}`),
	}

	f.dispatcher.onSend = func(chatID int64) {
		// Send happens before the ledger write.
		l, _ := f.store.ListListingsByLocation(ctx, "Lavington")
		notified, _ := f.store.HasNotified(ctx, alice.ID, l[0].ID)
		if notified {
			t.Errorf("ledger written before send")
		}
	}

	run, err := f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ListingsNew != 1 || run.NotificationsSent != 1 {
		t.Fatalf("expected 1 new listing and 1 send, got %+v", run)
	}
	if len(f.dispatcher.sent) != 1 || f.dispatcher.sent[0].chatID != 1001 {
		t.Fatalf("unexpected sends %+v", f.dispatcher.sent)
	}

	listings, _ := f.store.ListListingsByLocation(ctx, "Lavington")
	notified, err := f.store.HasNotified(ctx, alice.ID, listings[0].ID)
	if err != nil || !notified {
		t.Fatalf("expected ledger entry after send: %v %v", notified, err)
	}

	f.dispatcher.onSend = nil
	f.clock = f.clock.Add(time.Hour)
	run, err = f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run.ListingsNew != 0 || len(f.dispatcher.sent) != 1 {
		t.Fatalf("expected no new sends on refetch, got run %+v, %d sends", run, len(f.dispatcher.sent))
	}
}

func TestCycle_DispatchFailureQueuesRetry(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	alice := f.addUser(t, 2001, models.AlertFilter{})
	bob := f.addUser(t, 2002, models.AlertFilter{})
	f.dispatcher.failFor[2001] = true

	f.src.listings = []models.RawListing{rawListing(7, "Flat", `{"location":"Westlands"}`)}

	run, err := f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.DispatchFailures != 1 || run.NotificationsSent != 1 {
		t.Fatalf("expected 1 failure and 1 send, got %+v", run)
	}
	if len(f.dispatcher.sent) != 1 || f.dispatcher.sent[0].chatID != 2002 {
		t.Fatalf("expected bob to still be notified, got %+v", f.dispatcher.sent)
	}

	listings, _ := f.store.ListListingsByLocation(ctx, "Westlands")
	if notified, _ := f.store.HasNotified(ctx, alice.ID, listings[0].ID); notified {
		t.Fatalf("failed send must not be recorded")
	}
	if notified, _ := f.store.HasNotified(ctx, bob.ID, listings[0].ID); !notified {
		t.Fatalf("successful send must be recorded")
	}

	retries, err := f.store.GetPendingRetries(ctx, 10)
	if err != nil {
		t.Fatalf("pending retries: %v", err)
	}
	if len(retries) != 1 || retries[0].UserID != alice.ID || retries[0].ListingID != listings[0].ID {
		t.Fatalf("unexpected retries %+v", retries)
	}
}

func TestCycle_CancelStopsAfterCurrentListing(t *testing.T) {
	f := newCycleFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.addUser(t, 3001, models.AlertFilter{})
	f.src.listings = []models.RawListing{
		rawListing(1, "One", `{}`),
		rawListing(2, "Two", `{}`),
	}
	f.dispatcher.onSend = func(int64) { cancel() }

	run, err := f.cycle.Run(ctx, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled run, got %s", run.Status)
	}
	if run.ListingsNew != 1 || len(f.dispatcher.sent) != 1 {
		t.Fatalf("expected only the first listing to be handled, got %+v", run)
	}
	if !f.cycle.State().LastSuccess().IsZero() {
		t.Fatalf("cancelled cycle must not record a success")
	}

	runs, _ := f.store.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != models.RunStatusCancelled || runs[0].FinishedAt == nil {
		t.Fatalf("expected persisted cancelled run, got %+v", runs)
	}
}

func TestCycle_RejectsConcurrentRun(t *testing.T) {
	f := newCycleFixture(t)
	f.cycle.running.Store(true)
	if _, err := f.cycle.Run(context.Background(), true); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}
	if f.src.Calls() != 0 {
		t.Fatalf("expected no fetch")
	}
}

func TestCycle_CancelFinishesRecipientsOfCurrentListing(t *testing.T) {
	f := newCycleFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.addUser(t, 3101, models.AlertFilter{})
	f.addUser(t, 3102, models.AlertFilter{})
	f.src.listings = []models.RawListing{
		rawListing(1, "One", `{}`),
		rawListing(2, "Two", `{}`),
	}
	f.dispatcher.onSend = func(int64) { cancel() }

	run, err := f.cycle.Run(ctx, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.ListingsNew != 1 {
		t.Fatalf("expected the second listing to be left alone, got %+v", run)
	}
	if run.NotificationsSent != 2 || run.DispatchFailures != 0 || len(f.dispatcher.sent) != 2 {
		t.Fatalf("expected both recipients of the first listing to be sent, got %+v", run)
	}

	retries, err := f.store.GetPendingRetries(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending retries: %v", err)
	}
	if len(retries) != 0 {
		t.Fatalf("expected no retries, got %+v", retries)
	}
}

// brokenUserLookup fails GetUser for one user ID.
type brokenUserLookup struct {
	storage.UserStore
	failID int64
}

func (b brokenUserLookup) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id == b.failID {
		return nil, fmt.Errorf("user %d: connection reset", id)
	}
	return b.UserStore.GetUser(ctx, id)
}

func TestCycle_RecipientLookupFailureQueuesRetry(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	alice := f.addUser(t, 3201, models.AlertFilter{})
	bob := f.addUser(t, 3202, models.AlertFilter{})
	f.cycle.matcher = services.NewMatcher(brokenUserLookup{UserStore: f.store, failID: alice.ID}, f.store)

	f.src.listings = []models.RawListing{rawListing(9, "Bungalow", `{"location":"Karen"}`)}

	run, err := f.cycle.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.NotificationsSent != 1 || run.ErrorsCount != 1 {
		t.Fatalf("expected 1 send and 1 error, got %+v", run)
	}
	if len(f.dispatcher.sent) != 1 || f.dispatcher.sent[0].chatID != 3202 {
		t.Fatalf("expected bob to be notified, got %+v", f.dispatcher.sent)
	}

	listings, _ := f.store.ListListingsByLocation(ctx, "Karen")
	retries, err := f.store.GetPendingRetries(ctx, 10)
	if err != nil {
		t.Fatalf("pending retries: %v", err)
	}
	if len(retries) != 1 || retries[0].UserID != alice.ID || retries[0].ListingID != listings[0].ID {
		t.Fatalf("expected a retry for alice, got %+v", retries)
	}
	if notified, _ := f.store.HasNotified(ctx, bob.ID, listings[0].ID); !notified {
		t.Fatalf("expected bob's send to be recorded")
	}
}
