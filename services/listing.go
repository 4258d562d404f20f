package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"listing_alerts/cache"
	"listing_alerts/models"
	"listing_alerts/source"
	"listing_alerts/storage"
)

const (
	locationsKey      = "locations"
	listingsKeyPrefix = "listings:"
)

// ListingService normalizes and stores fetched listings and serves the
// browsing reads through the cache.
type ListingService struct {
	store storage.ListingStore
	cache cache.Cache
	ttl   time.Duration
}

// NewListingService creates a ListingService. A nil cache disables caching.
func NewListingService(store storage.ListingStore, c cache.Cache, ttl time.Duration) *ListingService {
	return &ListingService{store: store, cache: c, ttl: ttl}
}

// Upsert stores raw and reports whether its external ID was seen for the first time.
func (s *ListingService) Upsert(ctx context.Context, raw *models.RawListing) (*models.Listing, bool, error) {
	l := source.Normalize(raw)
	isNew, err := s.store.UpsertListing(ctx, l)
	if err != nil {
		return nil, false, fmt.Errorf("listing %d: %w", raw.ID, err)
	}
	return l, isNew, nil
}

func (s *ListingService) Get(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("listing %d: %w", id, storage.ErrNotFound)
	}
	return l, nil
}

// Locations returns the distinct listing locations in sorted order.
func (s *ListingService) Locations(ctx context.Context) ([]string, error) {
	var locations []string
	err := s.cached(ctx, locationsKey, &locations, func() (any, error) {
		return s.store.ListLocations(ctx)
	})
	return locations, err
}

// ByLocation returns the listings for one location, newest first.
func (s *ListingService) ByLocation(ctx context.Context, location string) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.cached(ctx, listingsKeyPrefix+location, &listings, func() (any, error) {
		return s.store.ListListingsByLocation(ctx, location)
	})
	return listings, err
}

// InvalidateCache drops every cached browse result.
func (s *ListingService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func (s *ListingService) cached(ctx context.Context, key string, dst any, load func() (any, error)) error {
	loadJSON := func() ([]byte, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}

	if s.cache == nil {
		data, err := loadJSON()
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}

	data, err := s.cache.GetOrSet(ctx, key, s.ttl, loadJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Printf("Listings: dropping unreadable cache entry %s: %v", key, err)
		s.cache.Delete(ctx, key)
		data, err := loadJSON()
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}
	return nil
}
