package storage

import (
	"context"
	"errors"
	"time"

	"listing_alerts/models"
)

var (
	// ErrStorage marks failures of the persistence backend.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by services when a lookup the caller depends on finds nothing.
	ErrNotFound = errors.New("not found")
)

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string   { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() []error { return []error{ErrStorage, e.err} }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

// ListingStore persists listings keyed by their external ID.
type ListingStore interface {
	// UpsertListing inserts l or updates the stored copy in place. It fills in
	// l.ID, l.FirstSeenAt and l.LastUpdated and reports whether the external
	// ID was seen for the first time.
	UpsertListing(ctx context.Context, l *models.Listing) (bool, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListListingsByLocation(ctx context.Context, location string) ([]models.Listing, error)
	ListLocations(ctx context.Context) ([]string, error)
}

type AlertStore interface {
	CreateAlert(ctx context.Context, userID int64, filter models.AlertFilter) (*models.AlertSubscription, error)
	ListActiveAlerts(ctx context.Context, userID int64) ([]models.AlertSubscription, error)
	ListAllActiveAlerts(ctx context.Context) ([]models.AlertSubscription, error)
	// DeleteAlert and DeactivateAlert only touch the alert when it belongs to userID.
	DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error)
	DeactivateAlert(ctx context.Context, alertID, userID int64) (bool, error)
}

type NotificationStore interface {
	HasNotified(ctx context.Context, userID, listingID int64) (bool, error)
	// RecordNotification returns the existing record when the pair is already stored.
	RecordNotification(ctx context.Context, userID, listingID int64) (*models.NotificationRecord, error)
}

type UserStore interface {
	GetOrCreateUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
}

// DomainStore is everything the alert pipeline and the front-end share.
type DomainStore interface {
	ListingStore
	AlertStore
	NotificationStore
	UserStore
	Close() error
}

// OpsStore holds daemon bookkeeping: runs, logs, scheduler state, commands and retries.
type OpsStore interface {
	CreateRun(ctx context.Context, run *models.CycleRun) (int64, error)
	UpdateRun(ctx context.Context, run *models.CycleRun) error
	ListRuns(ctx context.Context, limit int) ([]models.CycleRun, error)
	Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error
	ListLogs(ctx context.Context, runID int64) ([]models.CycleLog, error)

	GetLastSuccess(ctx context.Context) (time.Time, error)
	SetLastSuccess(ctx context.Context, t time.Time) error

	CreateCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error)
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	EnqueueRetry(ctx context.Context, userID, listingID int64, lastErr string) error
	GetPendingRetries(ctx context.Context, limit int) ([]models.NotificationRetry, error)
	UpdateRetry(ctx context.Context, r *models.NotificationRetry) error
	DeleteRetry(ctx context.Context, id int64) error
}
