// Package entitlements maps a user classification to its message quota and
// checks historical usage against it.
package entitlements

import (
	"context"
	"time"

	"github.com/loomchat/loomchat/internal/models"
)

// Entitlement is derived from the user classification, never stored.
type Entitlement struct {
	MaxMessagesPerDay int
}

type Entitlements map[models.UserType]Entitlement

func Defaults(guestLimit, regularLimit int) Entitlements {
	return Entitlements{
		models.UserTypeGuest:   {MaxMessagesPerDay: guestLimit},
		models.UserTypeRegular: {MaxMessagesPerDay: regularLimit},
	}
}

// ForType falls back to the guest tier for unknown classifications.
func (e Entitlements) ForType(t models.UserType) Entitlement {
	if ent, ok := e[t]; ok {
		return ent
	}
	return e[models.UserTypeGuest]
}

type Quota struct {
	Allowed bool
	Used    int
	Limit   int
}

// MessageCounter counts a user's persisted user-authored messages created
// at or after the given instant.
type MessageCounter interface {
	CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// CheckQuota counts messages over a trailing 24-hour sliding window and
// compares against the classification's limit. It fails closed: a counting
// error rejects the request rather than letting it through.
func CheckQuota(ctx context.Context, counter MessageCounter, ents Entitlements, userID string, userType models.UserType) (Quota, error) {
	limit := ents.ForType(userType).MaxMessagesPerDay
	used, err := counter.CountUserMessagesSince(ctx, userID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return Quota{Allowed: false, Limit: limit}, err
	}
	return Quota{
		Allowed: int(used) < limit,
		Used:    int(used),
		Limit:   limit,
	}, nil
}
