package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertFilter holds the optional criteria of an alert. A nil field does not filter.
type AlertFilter struct {
	Location    *string `json:"location" validate:"omitempty,max=100"`
	MinPrice    *int    `json:"min_price" validate:"omitempty,min=0"`
	MaxPrice    *int    `json:"max_price" validate:"omitempty,min=0"`
	MinBedrooms *int    `json:"min_bedrooms" validate:"omitempty,min=0"`
}

// AlertSubscription is a user's saved filter for new-listing notifications.
type AlertSubscription struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"user_id" db:"user_id"`
	AlertFilter
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (a *AlertSubscription) String() string {
	var filters []string
	if a.Location != nil {
		filters = append(filters, "location="+*a.Location)
	}
	if a.MinPrice != nil {
		filters = append(filters, fmt.Sprintf("min_price=%d", *a.MinPrice))
	}
	if a.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("max_price=%d", *a.MaxPrice))
	}
	if a.MinBedrooms != nil {
		filters = append(filters, fmt.Sprintf("min_bedrooms=%d", *a.MinBedrooms))
	}
	desc := "no filters"
	if len(filters) > 0 {
		desc = strings.Join(filters, ", ")
	}
	return fmt.Sprintf("alert %d (user %d): %s", a.ID, a.UserID, desc)
}
