package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"listing_alerts/models"
)

// SQLiteStore implements DomainStore and OpsStore on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		chat_id INTEGER NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		last_interaction DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY,
		external_id INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		location TEXT,
		price TEXT,
		bedrooms INTEGER,
		bathrooms INTEGER,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		details JSON,
		first_seen_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		location TEXT,
		min_price INTEGER,
		max_price INTEGER,
		min_bedrooms INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		listing_id INTEGER NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		sent_at DATETIME NOT NULL,
		UNIQUE(user_id, listing_id)
	);

	CREATE TABLE IF NOT EXISTS cycle_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_fetched INTEGER,
		listings_new INTEGER,
		notifications_sent INTEGER,
		dispatch_failures INTEGER,
		errors_count INTEGER,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS cycle_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS scheduler_state (
		key TEXT PRIMARY KEY,
		last_success_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS notification_retries (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		listing_id INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, listing_id)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_location ON listings(location);
	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON cycle_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON cycle_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_retries_status ON notification_retries(status, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, external_id, title, location, price, bedrooms, bathrooms,
	thumbnail_url, url, details, first_seen_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var details sql.NullString
	err := row.Scan(&l.ID, &l.ExternalID, &l.Title, &l.Location, &l.Price, &l.Bedrooms, &l.Bathrooms,
		&l.ThumbnailURL, &l.URL, &details, &l.FirstSeenAt, &l.LastUpdated)
	if err != nil {
		return nil, err
	}
	if details.Valid {
		l.Details = json.RawMessage(details.String)
	}
	return &l, nil
}

func detailsArg(d json.RawMessage) any {
	if len(d) == 0 {
		return nil
	}
	return string(d)
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("upsert listing", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	isNew := false

	var id int64
	var firstSeen time.Time
	err = tx.QueryRowContext(ctx, `SELECT id, first_seen_at FROM listings WHERE external_id = ?`, l.ExternalID).
		Scan(&id, &firstSeen)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO listings (external_id, title, location, price, bedrooms, bathrooms,
				thumbnail_url, url, details, first_seen_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ExternalID, l.Title, l.Location, l.Price, l.Bedrooms, l.Bathrooms,
			l.ThumbnailURL, l.URL, detailsArg(l.Details), now, now)
		if err != nil {
			return false, wrap("upsert listing", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return false, wrap("upsert listing", err)
		}
		firstSeen = now
		isNew = true
	case err != nil:
		return false, wrap("upsert listing", err)
	default:
		_, err := tx.ExecContext(ctx, `
			UPDATE listings SET title = ?, location = ?, price = ?, bedrooms = ?, bathrooms = ?,
				thumbnail_url = ?, url = ?, details = ?, last_updated = ?
			WHERE id = ?`,
			l.Title, l.Location, l.Price, l.Bedrooms, l.Bathrooms,
			l.ThumbnailURL, l.URL, detailsArg(l.Details), now, id)
		if err != nil {
			return false, wrap("upsert listing", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrap("upsert listing", err)
	}

	l.ID = id
	l.FirstSeenAt = firstSeen
	l.LastUpdated = now
	return isNew, nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get listing", err)
	}
	return l, nil
}

func (s *SQLiteStore) ListListingsByLocation(ctx context.Context, location string) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE location = ? ORDER BY first_seen_at DESC, id DESC`, location)
	if err != nil {
		return nil, wrap("list listings", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, wrap("list listings", err)
		}
		listings = append(listings, *l)
	}
	return listings, wrap("list listings", rows.Err())
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT location FROM listings
		WHERE location IS NOT NULL AND location != '' ORDER BY location`)
	if err != nil {
		return nil, wrap("list locations", err)
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, wrap("list locations", err)
		}
		locations = append(locations, loc)
	}
	return locations, wrap("list locations", rows.Err())
}

// =============================================================================
// Alerts
// =============================================================================

func (s *SQLiteStore) CreateAlert(ctx context.Context, userID int64, f models.AlertFilter) (*models.AlertSubscription, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (user_id, location, min_price, max_price, min_bedrooms, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, TRUE, ?)`,
		userID, f.Location, f.MinPrice, f.MaxPrice, f.MinBedrooms, now)
	if err != nil {
		return nil, wrap("create alert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrap("create alert", err)
	}
	return &models.AlertSubscription{
		ID:          id,
		UserID:      userID,
		AlertFilter: f,
		IsActive:    true,
		CreatedAt:   now,
	}, nil
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...any) ([]models.AlertSubscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) ListActiveAlerts(ctx context.Context, userID int64) ([]models.AlertSubscription, error) {
	return s.queryAlerts(ctx, `
		SELECT id, user_id, location, min_price, max_price, min_bedrooms, is_active, created_at
		FROM alerts WHERE user_id = ? AND is_active = TRUE ORDER BY id`, userID)
}

func (s *SQLiteStore) ListAllActiveAlerts(ctx context.Context) ([]models.AlertSubscription, error) {
	return s.queryAlerts(ctx, `
		SELECT id, user_id, location, min_price, max_price, min_bedrooms, is_active, created_at
		FROM alerts WHERE is_active = TRUE ORDER BY id`)
}

func (s *SQLiteStore) DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ? AND user_id = ?`, alertID, userID)
	if err != nil {
		return false, wrap("delete alert", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrap("delete alert", err)
}

func (s *SQLiteStore) DeactivateAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET is_active = FALSE WHERE id = ? AND user_id = ? AND is_active = TRUE`, alertID, userID)
	if err != nil {
		return false, wrap("deactivate alert", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrap("deactivate alert", err)
}

// =============================================================================
// Notification ledger
// =============================================================================

func (s *SQLiteStore) HasNotified(ctx context.Context, userID, listingID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM notifications WHERE user_id = ? AND listing_id = ? LIMIT 1`, userID, listingID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("has notified", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordNotification(ctx context.Context, userID, listingID int64) (*models.NotificationRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, listing_id, sent_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, listing_id) DO NOTHING`, userID, listingID, time.Now().UTC())
	if err != nil {
		return nil, wrap("record notification", err)
	}

	var rec models.NotificationRecord
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, listing_id, sent_at FROM notifications
		WHERE user_id = ? AND listing_id = ?`, userID, listingID).
		Scan(&rec.ID, &rec.UserID, &rec.ListingID, &rec.SentAt)
	if err != nil {
		return nil, wrap("record notification", err)
	}
	return &rec, nil
}

// =============================================================================
// Users
// =============================================================================

const userColumns = `id, chat_id, first_name, last_name, username, is_active, created_at, last_interaction`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.ChatID, &u.FirstName, &u.LastName, &u.Username, &u.IsActive,
		&u.CreatedAt, &u.LastInteraction)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser looks the user up by chat ID, refreshing names that changed
// and the last interaction time, or inserts a new active user.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("get or create user", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	existing, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = ?`, u.ChatID))
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (chat_id, first_name, last_name, username, is_active, created_at, last_interaction)
			VALUES (?, ?, ?, ?, TRUE, ?, ?)`,
			u.ChatID, u.FirstName, u.LastName, u.Username, now, now)
		if err != nil {
			return nil, wrap("get or create user", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, wrap("get or create user", err)
		}
		existing = &models.User{
			ID:              id,
			ChatID:          u.ChatID,
			FirstName:       u.FirstName,
			LastName:        u.LastName,
			Username:        u.Username,
			IsActive:        true,
			CreatedAt:       now,
			LastInteraction: now,
		}
	case err != nil:
		return nil, wrap("get or create user", err)
	default:
		mergeNames(existing, u)
		existing.LastInteraction = now
		_, err := tx.ExecContext(ctx, `
			UPDATE users SET first_name = ?, last_name = ?, username = ?, last_interaction = ?
			WHERE id = ?`,
			existing.FirstName, existing.LastName, existing.Username, now, existing.ID)
		if err != nil {
			return nil, wrap("get or create user", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("get or create user", err)
	}
	return existing, nil
}

func mergeNames(dst, src *models.User) {
	if src.FirstName != "" {
		dst.FirstName = src.FirstName
	}
	if src.LastName != "" {
		dst.LastName = src.LastName
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return u, nil
}

func (s *SQLiteStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, active, id)
	return wrap("set user active", err)
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.CycleRun) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (started_at, status, listings_fetched, listings_new,
			notifications_sent, dispatch_failures, errors_count, error_message)
		VALUES (?, ?, 0, 0, 0, 0, 0, '')`,
		run.StartedAt, run.Status)
	if err != nil {
		return 0, wrap("create run", err)
	}
	id, err := result.LastInsertId()
	return id, wrap("create run", err)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.CycleRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cycle_runs SET finished_at = ?, status = ?, listings_fetched = ?, listings_new = ?,
			notifications_sent = ?, dispatch_failures = ?, errors_count = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFetched, run.ListingsNew,
		run.NotificationsSent, run.DispatchFailures, run.ErrorsCount, run.ErrorMessage, run.ID)
	return wrap("update run", err)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.CycleRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, listings_fetched, listings_new,
			notifications_sent, dispatch_failures, errors_count, COALESCE(error_message, '')
		FROM cycle_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()

	var runs []models.CycleRun
	for rows.Next() {
		var r models.CycleRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.ListingsFetched, &r.ListingsNew,
			&r.NotificationsSent, &r.DispatchFailures, &r.ErrorsCount, &r.ErrorMessage); err != nil {
			return nil, wrap("list runs", err)
		}
		runs = append(runs, r)
	}
	return runs, wrap("list runs", rows.Err())
}

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_logs (run_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message)
	return wrap("log", err)
}

func (s *SQLiteStore) ListLogs(ctx context.Context, runID int64) ([]models.CycleLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message
		FROM cycle_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, wrap("list logs", err)
	}
	defer rows.Close()

	var logs []models.CycleLog
	for rows.Next() {
		var l models.CycleLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message); err != nil {
			return nil, wrap("list logs", err)
		}
		logs = append(logs, l)
	}
	return logs, wrap("list logs", rows.Err())
}

// =============================================================================
// Scheduler state
// =============================================================================

const cycleStateKey = "alert_cycle"

func (s *SQLiteStore) GetLastSuccess(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT last_success_at FROM scheduler_state WHERE key = ?`, cycleStateKey).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrap("get last success", err)
	}
	return last.Time, nil
}

func (s *SQLiteStore) SetLastSuccess(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (key, last_success_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_success_at = excluded.last_success_at`,
		cycleStateKey, t.UTC())
	return wrap("set last success", err)
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) CreateCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return 0, err
		}
		raw = string(data)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now().UTC())
	if err != nil {
		return 0, wrap("create command", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("create command", err)
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("pending commands", err)
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, wrap("pending commands", err)
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, wrap("pending commands", rows.Err())
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return wrap("mark command", err)
}

// ParseCommandParams decodes cmd.Params, treating a missing payload as zero params.
func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// =============================================================================
// Notification retries
// =============================================================================

// EnqueueRetry stores a failed send. A pair already queued keeps its attempt count.
func (s *SQLiteStore) EnqueueRetry(ctx context.Context, userID, listingID int64, lastErr string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_retries (user_id, listing_id, attempts, last_error, status, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(user_id, listing_id) DO UPDATE SET
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		userID, listingID, lastErr, models.RetryStatusPending, now, now)
	return wrap("enqueue retry", err)
}

func (s *SQLiteStore) GetPendingRetries(ctx context.Context, limit int) ([]models.NotificationRetry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, listing_id, attempts, last_error, status, created_at, updated_at
		FROM notification_retries
		WHERE status = ? AND attempts < ?
		ORDER BY updated_at, id
		LIMIT ?`, models.RetryStatusPending, models.MaxRetryAttempts, limit)
	if err != nil {
		return nil, wrap("pending retries", err)
	}
	defer rows.Close()

	var retries []models.NotificationRetry
	for rows.Next() {
		var r models.NotificationRetry
		if err := rows.Scan(&r.ID, &r.UserID, &r.ListingID, &r.Attempts, &r.LastError, &r.Status,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, wrap("pending retries", err)
		}
		retries = append(retries, r)
	}
	return retries, wrap("pending retries", rows.Err())
}

func (s *SQLiteStore) UpdateRetry(ctx context.Context, r *models.NotificationRetry) error {
	r.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_retries SET attempts = ?, last_error = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		r.Attempts, r.LastError, r.Status, r.UpdatedAt, r.ID)
	return wrap("update retry", err)
}

func (s *SQLiteStore) DeleteRetry(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notification_retries WHERE id = ?`, id)
	return wrap("delete retry", err)
}
