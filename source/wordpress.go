package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"listing_alerts/config"
	"listing_alerts/models"
)

const maxPages = 50

// WordPress fetches listings from a WordPress REST collection such as /wp-json/wp/v2/property.
type WordPress struct {
	cfg    config.SourceConfig
	client *http.Client
	retry  RetryConfig
}

func NewWordPress(cfg config.SourceConfig, client *http.Client) *WordPress {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WordPress{
		cfg:    cfg,
		client: client,
		retry: RetryConfig{
			MaxAttempts: cfg.Retries + 1,
			BaseDelay:   2 * time.Second,
		},
	}
}

func (w *WordPress) Name() string {
	return w.cfg.Name
}

// FetchAll walks every page of the collection. Any failure discards the
// partial result and is reported as ErrFetch.
func (w *WordPress) FetchAll(ctx context.Context) ([]models.RawListing, error) {
	var all []models.RawListing

	for page := 1; page <= maxPages; page++ {
		var listings []models.RawListing
		var totalPages int

		err := w.retry.Do(ctx, fmt.Sprintf("%s page %d", w.cfg.Name, page), func() error {
			var err error
			listings, totalPages, err = w.fetchPage(ctx, page)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrFetch, w.cfg.Name, page, err)
		}

		all = append(all, listings...)
		log.Printf("Source: %s page %d: %d listings (total: %d)", w.cfg.Name, page, len(listings), len(all))

		if len(listings) == 0 || page >= totalPages {
			break
		}
	}

	return all, nil
}

func (w *WordPress) fetchPage(ctx context.Context, page int) ([]models.RawListing, int, error) {
	u, err := url.Parse(w.cfg.Endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for k, v := range w.cfg.Params {
		q.Set(k, v)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "listing-alerts/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var listings []models.RawListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}

	totalPages := 1
	if v := resp.Header.Get("X-WP-TotalPages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			totalPages = n
		}
	}
	return listings, totalPages, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
