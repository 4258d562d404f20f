package scheduler

import (
	"context"
	"sync"
	"time"
)

// StateStore persists the last successful cycle time.
type StateStore interface {
	GetLastSuccess(ctx context.Context) (time.Time, error)
	SetLastSuccess(ctx context.Context, t time.Time) error
}

// State gates alert cycles on the time of the last successful one.
type State struct {
	mu          sync.Mutex
	lastSuccess time.Time
	store       StateStore
}

// NewState returns a State backed by store. A nil store keeps it in memory.
func NewState(store StateStore) *State {
	return &State{store: store}
}

// Load reads the persisted last-success time.
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	t, err := s.store.GetLastSuccess(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSuccess = t
	s.mu.Unlock()
	return nil
}

func (s *State) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// Due reports whether interval has elapsed since the last success.
func (s *State) Due(now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess.IsZero() || now.Sub(s.lastSuccess) >= interval
}

// NextDue returns when the next cycle may run. Zero means now.
func (s *State) NextDue(interval time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSuccess.IsZero() {
		return time.Time{}
	}
	return s.lastSuccess.Add(interval)
}

// MarkSuccess records t. The in-memory value is updated even when persisting fails.
func (s *State) MarkSuccess(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	s.lastSuccess = t
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.SetLastSuccess(ctx, t)
}
