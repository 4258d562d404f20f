package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"listing_alerts/models"
	"listing_alerts/notify"
	"listing_alerts/services"
	"listing_alerts/source"
	"listing_alerts/storage"
)

// ErrCycleRunning is returned when a cycle is requested while one is in flight.
var ErrCycleRunning = errors.New("alert cycle already running")

type CycleConfig struct {
	CheckInterval time.Duration
	DispatchDelay time.Duration
}

// AlertCycle runs one fetch, detect, match and dispatch pass.
type AlertCycle struct {
	cfg        CycleConfig
	state      *State
	source     source.Source
	listings   *services.ListingService
	alerts     *services.AlertService
	matcher    *services.Matcher
	ledger     *services.Ledger
	dispatcher notify.Dispatcher
	ops        storage.OpsStore

	running atomic.Bool
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

func NewAlertCycle(
	cfg CycleConfig,
	state *State,
	src source.Source,
	listings *services.ListingService,
	alerts *services.AlertService,
	matcher *services.Matcher,
	ledger *services.Ledger,
	dispatcher notify.Dispatcher,
	ops storage.OpsStore,
) *AlertCycle {
	return &AlertCycle{
		cfg:        cfg,
		state:      state,
		source:     src,
		listings:   listings,
		alerts:     alerts,
		matcher:    matcher,
		ledger:     ledger,
		dispatcher: dispatcher,
		ops:        ops,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *AlertCycle) State() *State {
	return c.state
}

func (c *AlertCycle) Running() bool {
	return c.running.Load()
}

// Run performs a cycle unless one succeeded within the check interval. force
// skips that gate. It returns a nil run when the cycle was skipped.
//
// A failed fetch leaves the gate untouched so the next poll tries again.
// Per-listing and per-recipient failures are logged and counted but never
// abort the pass. Cancelling ctx stops the pass after the current listing.
func (c *AlertCycle) Run(ctx context.Context, force bool) (*models.CycleRun, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer c.running.Store(false)

	started := c.now()
	if !force && !c.state.Due(started, c.cfg.CheckInterval) {
		next := c.state.NextDue(c.cfg.CheckInterval)
		log.Printf("Alert cycle: skipping, next check in %s", next.Sub(started).Round(time.Second))
		return nil, nil
	}

	// Bookkeeping writes must land even while shutting down.
	bg := context.WithoutCancel(ctx)

	run := &models.CycleRun{
		StartedAt: started,
		Status:    models.RunStatusRunning,
	}
	runID, err := c.ops.CreateRun(bg, run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID

	defer func() {
		finished := c.now()
		run.FinishedAt = &finished
		if err := c.ops.UpdateRun(bg, run); err != nil {
			log.Printf("Alert cycle: update run %d: %v", run.ID, err)
		}
	}()

	c.log(bg, run.ID, models.LogLevelInfo, "Checking for new listings")

	alerts, err := c.alerts.ListAllActive(ctx)
	if err != nil {
		return c.fail(bg, run, fmt.Errorf("load alerts: %w", err))
	}

	raws, err := c.source.FetchAll(ctx)
	if err != nil {
		return c.fail(bg, run, err)
	}
	run.ListingsFetched = len(raws)
	c.log(bg, run.ID, models.LogLevelInfo, fmt.Sprintf("Fetched %d listings, %d active alerts", len(raws), len(alerts)))

	for i := range raws {
		if ctx.Err() != nil {
			break
		}

		l, isNew, err := c.listings.Upsert(ctx, &raws[i])
		if err != nil {
			run.ErrorsCount++
			c.log(bg, run.ID, models.LogLevelError, fmt.Sprintf("Upsert error for listing %d: %v", raws[i].ID, err))
			continue
		}
		if !isNew {
			continue
		}

		run.ListingsNew++
		c.log(bg, run.ID, models.LogLevelInfo, fmt.Sprintf("New listing detected: %s (%d)", l.Title, l.ExternalID))
		c.notifyListing(ctx, run, l, alerts)
	}

	if run.ListingsNew > 0 {
		if err := c.listings.InvalidateCache(bg); err != nil {
			c.log(bg, run.ID, models.LogLevelWarn, fmt.Sprintf("Cache invalidation failed: %v", err))
		}
	}

	if err := ctx.Err(); err != nil {
		run.Status = models.RunStatusCancelled
		run.ErrorMessage = err.Error()
		c.log(bg, run.ID, models.LogLevelWarn, "Cycle cancelled before all listings were processed")
		return run, err
	}

	run.Status = models.RunStatusCompleted
	if err := c.state.MarkSuccess(bg, started); err != nil {
		c.log(bg, run.ID, models.LogLevelWarn, fmt.Sprintf("Persisting last success failed: %v", err))
	}
	c.log(bg, run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d fetched, %d new, %d sent, %d dispatch failures, %d errors",
			run.ListingsFetched, run.ListingsNew, run.NotificationsSent, run.DispatchFailures, run.ErrorsCount))
	return run, nil
}

// notifyListing sends l to every recipient, then records each successful send.
// Sends run on the uncancelled context: once a listing has started, all of its
// recipients are attempted. Failed sends and recipients whose lookup failed are
// queued for retry.
func (c *AlertCycle) notifyListing(ctx context.Context, run *models.CycleRun, l *models.Listing, alerts []models.AlertSubscription) {
	bg := context.WithoutCancel(ctx)

	recipients, deferred, err := c.matcher.FindRecipients(bg, l, alerts)
	if err != nil {
		run.ErrorsCount++
		c.log(bg, run.ID, models.LogLevelError, fmt.Sprintf("Recipient lookup failed for listing %d: %v", l.ID, err))
		return
	}
	for _, userID := range deferred {
		run.ErrorsCount++
		c.queueRetry(bg, run, userID, l.ID, "recipient lookup failed")
	}
	if len(recipients) == 0 {
		return
	}
	c.log(bg, run.ID, models.LogLevelInfo, fmt.Sprintf("Sending listing %d to %d users", l.ID, len(recipients)))

	for i, user := range recipients {
		if i > 0 {
			c.sleep(bg, c.cfg.DispatchDelay)
		}
		if err := notify.SendListing(bg, c.dispatcher, user.ChatID, l); err != nil {
			run.DispatchFailures++
			c.log(bg, run.ID, models.LogLevelWarn, fmt.Sprintf("Send to user %d failed: %v", user.ID, err))
			c.queueRetry(bg, run, user.ID, l.ID, err.Error())
			continue
		}

		run.NotificationsSent++
		if _, err := c.ledger.Record(bg, user.ID, l.ID); err != nil {
			run.ErrorsCount++
			c.log(bg, run.ID, models.LogLevelError, fmt.Sprintf("Recording notification for user %d failed: %v", user.ID, err))
		}
	}
	c.sleep(ctx, c.cfg.DispatchDelay)
}

func (c *AlertCycle) queueRetry(ctx context.Context, run *models.CycleRun, userID, listingID int64, reason string) {
	if err := c.ops.EnqueueRetry(ctx, userID, listingID, reason); err != nil {
		c.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("Queueing retry for user %d failed: %v", userID, err))
	}
}

func (c *AlertCycle) fail(ctx context.Context, run *models.CycleRun, err error) (*models.CycleRun, error) {
	run.Status = models.RunStatusFailed
	run.ErrorsCount++
	run.ErrorMessage = err.Error()
	c.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("Cycle failed: %v", err))
	return run, err
}

func (c *AlertCycle) log(ctx context.Context, runID int64, level models.LogLevel, message string) {
	log.Printf("[%s] Alert cycle: %s", level, message)
	if err := c.ops.Log(ctx, &runID, level, message); err != nil {
		log.Printf("Alert cycle: persisting log failed: %v", err)
	}
}
