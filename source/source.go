package source

import (
	"context"
	"errors"

	"listing_alerts/models"
)

// ErrFetch marks a failed fetch of the listing set. Callers treat it as transient.
var ErrFetch = errors.New("fetch listings")

// Source returns the complete current listing set.
type Source interface {
	FetchAll(ctx context.Context) ([]models.RawListing, error)
}
