package services

import (
	"context"
	"errors"
	"fmt"

	"listing_alerts/models"
	"listing_alerts/storage"
)

// ErrInvalidFilter is returned for filters that can never match.
var ErrInvalidFilter = errors.New("invalid alert filter")

// AlertService is the registry of alert subscriptions.
type AlertService struct {
	alerts storage.AlertStore
	users  storage.UserStore
}

func NewAlertService(alerts storage.AlertStore, users storage.UserStore) *AlertService {
	return &AlertService{alerts: alerts, users: users}
}

// Create registers an active alert for an existing user.
func (s *AlertService) Create(ctx context.Context, userID int64, f models.AlertFilter) (*models.AlertSubscription, error) {
	if err := CheckFilter(f); err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, storage.ErrNotFound)
	}
	return s.alerts.CreateAlert(ctx, userID, f)
}

func (s *AlertService) ListActive(ctx context.Context, userID int64) ([]models.AlertSubscription, error) {
	return s.alerts.ListActiveAlerts(ctx, userID)
}

func (s *AlertService) ListAllActive(ctx context.Context) ([]models.AlertSubscription, error) {
	return s.alerts.ListAllActiveAlerts(ctx)
}

// Delete removes the alert if userID owns it and reports whether it did.
func (s *AlertService) Delete(ctx context.Context, alertID, userID int64) (bool, error) {
	return s.alerts.DeleteAlert(ctx, alertID, userID)
}

// Deactivate keeps the alert but stops it from matching.
func (s *AlertService) Deactivate(ctx context.Context, alertID, userID int64) (bool, error) {
	return s.alerts.DeactivateAlert(ctx, alertID, userID)
}

// CheckFilter rejects negative bounds and inverted price ranges.
func CheckFilter(f models.AlertFilter) error {
	for name, v := range map[string]*int{"min_price": f.MinPrice, "max_price": f.MaxPrice, "min_bedrooms": f.MinBedrooms} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidFilter, name)
		}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MaxPrice < *f.MinPrice {
		return fmt.Errorf("%w: max_price is below min_price", ErrInvalidFilter)
	}
	return nil
}
