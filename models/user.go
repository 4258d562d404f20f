package models

import "time"

// User is a chat user. ChatID is the address messages are sent to.
type User struct {
	ID              int64     `json:"id" db:"id"`
	ChatID          int64     `json:"chat_id" db:"chat_id"`
	FirstName       string    `json:"first_name" db:"first_name"`
	LastName        string    `json:"last_name" db:"last_name"`
	Username        string    `json:"username" db:"username"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	LastInteraction time.Time `json:"last_interaction" db:"last_interaction"`
}
