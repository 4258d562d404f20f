package models

import "time"

// NotificationRecord marks that a user was sent a listing. One per (user, listing).
type NotificationRecord struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ListingID int64     `json:"listing_id" db:"listing_id"`
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
}

// NotificationRetry is a send that failed and is waiting to be attempted again.
type NotificationRetry struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ListingID int64     `json:"listing_id" db:"listing_id"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error" db:"last_error"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	RetryStatusPending = "pending"
	RetryStatusFailed  = "failed"

	MaxRetryAttempts = 3
)
