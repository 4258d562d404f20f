package workers

import (
	"context"

	"listing_alerts/models"
)

// LogFunc persists a worker message to the cycle_logs table.
type LogFunc func(level models.LogLevel, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, message string) {}

type runLogger interface {
	Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error
}

// StoreLogger writes worker messages without a run ID.
func StoreLogger(store runLogger) LogFunc {
	return func(level models.LogLevel, message string) {
		store.Log(context.Background(), nil, level, message)
	}
}
