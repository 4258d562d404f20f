package models

import (
	"encoding/json"
	"time"
)

// Listing is a property listing as last seen on the listing source.
type Listing struct {
	ID           int64           `json:"id" db:"id"`
	ExternalID   int64           `json:"external_id" db:"external_id"`
	Title        string          `json:"title" db:"title"`
	Location     *string         `json:"location" db:"location"`
	Price        *string         `json:"price" db:"price"` // kept verbatim, not always numeric
	Bedrooms     *int            `json:"bedrooms" db:"bedrooms"`
	Bathrooms    *int            `json:"bathrooms" db:"bathrooms"`
	ThumbnailURL string          `json:"thumbnail_url" db:"thumbnail_url"`
	URL          string          `json:"url" db:"url"`
	Details      json.RawMessage `json:"details" db:"details"`
	FirstSeenAt  time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
}

// LocationOrEmpty returns the location label or "" when the listing has none.
func (l *Listing) LocationOrEmpty() string {
	if l.Location == nil {
		return ""
	}
	return *l.Location
}

// RawListing is a listing payload as returned by the WordPress property endpoint.
type RawListing struct {
	ID       int64           `json:"id"`
	Title    RenderedText    `json:"title"`
	Link     string          `json:"link"`
	ACF      json.RawMessage `json:"acf"`
	Embedded *Embedded       `json:"_embedded,omitempty"`

	// Data is the complete payload, kept for display.
	Data json.RawMessage `json:"-"`
}

type RenderedText struct {
	Rendered string `json:"rendered"`
}

type Embedded struct {
	FeaturedMedia []FeaturedMedia `json:"wp:featuredmedia"`
}

type FeaturedMedia struct {
	SourceURL string `json:"source_url"`
}

// UnmarshalJSON keeps a verbatim copy of the payload in Data.
func (r *RawListing) UnmarshalJSON(b []byte) error {
	type alias RawListing
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = RawListing(a)
	r.Data = append(json.RawMessage(nil), b...)
	return nil
}

// ThumbnailURL returns the first featured media URL, if any.
func (r *RawListing) ThumbnailURL() string {
	if r.Embedded == nil || len(r.Embedded.FeaturedMedia) == 0 {
		return ""
	}
	return r.Embedded.FeaturedMedia[0].SourceURL
}
