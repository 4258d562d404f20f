package services

import (
	"context"
	"fmt"

	"listing_alerts/models"
	"listing_alerts/storage"
)

type UserService struct {
	store storage.UserStore
}

func NewUserService(store storage.UserStore) *UserService {
	return &UserService{store: store}
}

// GetOrCreate registers a chat user or refreshes the stored one.
func (s *UserService) GetOrCreate(ctx context.Context, u *models.User) (*models.User, error) {
	if u.ChatID == 0 {
		return nil, fmt.Errorf("chat id is required")
	}
	return s.store.GetOrCreateUser(ctx, u)
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *UserService) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.SetUserActive(ctx, id, active)
}
