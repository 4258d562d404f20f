package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdRunCycle           CommandType = "run_cycle"
	CmdPause              CommandType = "pause"
	CmdResume             CommandType = "resume"
	CmdRetryNotifications CommandType = "retry_notifications"
)

func (c CommandType) Valid() bool {
	switch c {
	case CmdRunCycle, CmdPause, CmdResume, CmdRetryNotifications:
		return true
	}
	return false
}

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	// Force skips the check-interval gate for run_cycle.
	Force bool `json:"force,omitempty"`
}
