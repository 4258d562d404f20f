package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"listing_alerts/models"
)

// PostgresStore implements DomainStore. Daemon bookkeeping stays in SQLite.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_interaction TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		external_id BIGINT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		location TEXT,
		price TEXT,
		bedrooms INTEGER,
		bathrooms INTEGER,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		details JSONB,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		location TEXT,
		min_price INTEGER,
		max_price INTEGER,
		min_bedrooms INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, listing_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_location ON listings(location)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, is_active)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	query := `
		INSERT INTO listings (
			external_id, title, location, price, bedrooms, bathrooms,
			thumbnail_url, url, details, first_seen_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			price = EXCLUDED.price,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			thumbnail_url = EXCLUDED.thumbnail_url,
			url = EXCLUDED.url,
			details = EXCLUDED.details,
			last_updated = NOW()
		RETURNING id, first_seen_at, last_updated, (xmax = 0) AS inserted`

	var details any
	if len(l.Details) > 0 {
		details = l.Details
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		l.ExternalID, l.Title, l.Location, l.Price, l.Bedrooms, l.Bathrooms,
		l.ThumbnailURL, l.URL, details,
	).Scan(&l.ID, &l.FirstSeenAt, &l.LastUpdated, &inserted)
	if err != nil {
		return false, wrap("upsert listing", err)
	}
	return inserted, nil
}

const pgListingColumns = `id, external_id, title, location, price, bedrooms, bathrooms,
	thumbnail_url, url, details, first_seen_at, last_updated`

func scanPgListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var details []byte
	err := row.Scan(&l.ID, &l.ExternalID, &l.Title, &l.Location, &l.Price, &l.Bedrooms, &l.Bathrooms,
		&l.ThumbnailURL, &l.URL, &details, &l.FirstSeenAt, &l.LastUpdated)
	if err != nil {
		return nil, err
	}
	if details != nil {
		l.Details = json.RawMessage(details)
	}
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanPgListing(s.pool.QueryRow(ctx, `SELECT `+pgListingColumns+` FROM listings WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get listing", err)
	}
	return l, nil
}

func (s *PostgresStore) ListListingsByLocation(ctx context.Context, location string) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgListingColumns+` FROM listings
		WHERE location = $1 ORDER BY first_seen_at DESC, id DESC`, location)
	if err != nil {
		return nil, wrap("list listings", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, wrap("list listings", err)
		}
		listings = append(listings, *l)
	}
	return listings, wrap("list listings", rows.Err())
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT location FROM listings
		WHERE location IS NOT NULL AND location <> '' ORDER BY location`)
	if err != nil {
		return nil, wrap("list locations", err)
	}
	locations, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("list locations", err)
	}
	return locations, nil
}

// =============================================================================
// Alerts
// =============================================================================

func (s *PostgresStore) CreateAlert(ctx context.Context, userID int64, f models.AlertFilter) (*models.AlertSubscription, error) {
	a := models.AlertSubscription{UserID: userID, AlertFilter: f, IsActive: true}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alerts (user_id, location, min_price, max_price, min_bedrooms, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		RETURNING id, created_at`,
		userID, f.Location, f.MinPrice, f.MaxPrice, f.MinBedrooms,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, wrap("create alert", err)
	}
	return &a, nil
}

func (s *PostgresStore) queryAlerts(ctx context.Context, query string, args ...any) ([]models.AlertSubscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list alerts", err)
	}
	defer rows.Close()

	var alerts []models.AlertSubscription
	for rows.Next() {
		var a models.AlertSubscription
		if err := rows.Scan(&a.ID, &a.UserID, &a.Location, &a.MinPrice, &a.MaxPrice, &a.MinBedrooms,
			&a.IsActive, &a.CreatedAt); err != nil {
			return nil, wrap("list alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, wrap("list alerts", rows.Err())
}

func (s *PostgresStore) ListActiveAlerts(ctx context.Context, userID int64) ([]models.AlertSubscription, error) {
	return s.queryAlerts(ctx, `
		SELECT id, user_id, location, min_price, max_price, min_bedrooms, is_active, created_at
		FROM alerts WHERE user_id = $1 AND is_active ORDER BY id`, userID)
}

func (s *PostgresStore) ListAllActiveAlerts(ctx context.Context) ([]models.AlertSubscription, error) {
	return s.queryAlerts(ctx, `
		SELECT id, user_id, location, min_price, max_price, min_bedrooms, is_active, created_at
		FROM alerts WHERE is_active ORDER BY id`)
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1 AND user_id = $2`, alertID, userID)
	if err != nil {
		return false, wrap("delete alert", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeactivateAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET is_active = FALSE WHERE id = $1 AND user_id = $2 AND is_active`, alertID, userID)
	if err != nil {
		return false, wrap("deactivate alert", err)
	}
	return tag.RowsAffected() > 0, nil
}

// =============================================================================
// Notification ledger
// =============================================================================

func (s *PostgresStore) HasNotified(ctx context.Context, userID, listingID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE user_id = $1 AND listing_id = $2)`,
		userID, listingID).Scan(&exists)
	if err != nil {
		return false, wrap("has notified", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecordNotification(ctx context.Context, userID, listingID int64) (*models.NotificationRecord, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	var rec models.NotificationRecord
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, listing_id, sent_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, listing_id) DO UPDATE SET user_id = notifications.user_id
		RETURNING id, user_id, listing_id, sent_at`,
		userID, listingID,
	).Scan(&rec.ID, &rec.UserID, &rec.ListingID, &rec.SentAt)
	if err != nil {
		return nil, wrap("record notification", err)
	}
	return &rec, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	var out models.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (chat_id, first_name, last_name, username, is_active, created_at, last_interaction)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (chat_id) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name),
			username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
			last_interaction = NOW()
		RETURNING id, chat_id, first_name, last_name, username, is_active, created_at, last_interaction`,
		u.ChatID, u.FirstName, u.LastName, u.Username,
	).Scan(&out.ID, &out.ChatID, &out.FirstName, &out.LastName, &out.Username, &out.IsActive,
		&out.CreatedAt, &out.LastInteraction)
	if err != nil {
		return nil, wrap("get or create user", err)
	}
	return &out, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, first_name, last_name, username, is_active, created_at, last_interaction
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ChatID, &u.FirstName, &u.LastName, &u.Username, &u.IsActive,
		&u.CreatedAt, &u.LastInteraction)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET is_active = $1 WHERE id = $2`, active, id)
	return wrap("set user active", err)
}
