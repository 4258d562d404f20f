package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// CycleRun is the record of one fetch-process-dispatch pass.
type CycleRun struct {
	ID                int64      `json:"id" db:"id"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at" db:"finished_at"`
	Status            RunStatus  `json:"status" db:"status"`
	ListingsFetched   int        `json:"listings_fetched" db:"listings_fetched"`
	ListingsNew       int        `json:"listings_new" db:"listings_new"`
	NotificationsSent int        `json:"notifications_sent" db:"notifications_sent"`
	DispatchFailures  int        `json:"dispatch_failures" db:"dispatch_failures"`
	ErrorsCount       int        `json:"errors_count" db:"errors_count"`
	ErrorMessage      string     `json:"error_message" db:"error_message"`
}

// Metadata returns the run counters as JSON.
func (r *CycleRun) Metadata() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"listings_fetched":   r.ListingsFetched,
		"listings_new":       r.ListingsNew,
		"notifications_sent": r.NotificationsSent,
		"dispatch_failures":  r.DispatchFailures,
		"errors":             r.ErrorsCount,
	})
	return data
}
