package services

import (
	"context"
	"log"
	"math/big"

	"listing_alerts/models"
	"listing_alerts/storage"
)

// Matches reports whether l satisfies every filter set on a.
//
// Location compares exactly and case-sensitively. Price bounds only apply when
// the listing price is a plain run of ASCII digits; any other price passes.
// A minimum bedroom count excludes listings whose bedrooms are unknown.
func Matches(l *models.Listing, a *models.AlertSubscription) bool {
	if a.Location != nil {
		if l.Location == nil || *l.Location != *a.Location {
			return false
		}
	}

	if price, ok := numericPrice(l.Price); ok {
		if a.MinPrice != nil && price.Cmp(big.NewInt(int64(*a.MinPrice))) < 0 {
			return false
		}
		if a.MaxPrice != nil && price.Cmp(big.NewInt(int64(*a.MaxPrice))) > 0 {
			return false
		}
	}

	if a.MinBedrooms != nil {
		if l.Bedrooms == nil || *l.Bedrooms < *a.MinBedrooms {
			return false
		}
	}

	return true
}

// numericPrice parses an all-digit price. Prices past int64 still compare.
func numericPrice(p *string) (*big.Int, bool) {
	if p == nil || *p == "" {
		return nil, false
	}
	for i := 0; i < len(*p); i++ {
		if (*p)[i] < '0' || (*p)[i] > '9' {
			return nil, false
		}
	}
	return new(big.Int).SetString(*p, 10)
}

// Matcher resolves which users should hear about a listing.
type Matcher struct {
	users  storage.UserStore
	ledger storage.NotificationStore
}

func NewMatcher(users storage.UserStore, ledger storage.NotificationStore) *Matcher {
	return &Matcher{users: users, ledger: ledger}
}

// FindRecipients returns the owners of matching alerts, once each in the order
// of their first matching alert. Users already notified about l, inactive users
// and alerts whose owner no longer exists are skipped.
//
// deferred holds the IDs of matching owners whose ledger or user lookup failed.
// They are neither recipients nor excluded; the caller decides when to retry.
func (m *Matcher) FindRecipients(ctx context.Context, l *models.Listing, alerts []models.AlertSubscription) (recipients []models.User, deferred []int64, err error) {
	seen := make(map[int64]bool)

	for i := range alerts {
		a := &alerts[i]
		if !a.IsActive || seen[a.UserID] || !Matches(l, a) {
			continue
		}
		seen[a.UserID] = true

		notified, err := m.ledger.HasNotified(ctx, a.UserID, l.ID)
		if err != nil {
			log.Printf("Matcher: ledger check user %d listing %d: %v", a.UserID, l.ID, err)
			deferred = append(deferred, a.UserID)
			continue
		}
		if notified {
			continue
		}

		user, err := m.users.GetUser(ctx, a.UserID)
		if err != nil {
			log.Printf("Matcher: load user %d: %v", a.UserID, err)
			deferred = append(deferred, a.UserID)
			continue
		}
		if user == nil || !user.IsActive {
			continue
		}
		recipients = append(recipients, *user)
	}

	return recipients, deferred, ctx.Err()
}
