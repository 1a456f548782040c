package delivery

import (
	"context"
	"time"

	"bra_notification_bot/internal/domain/subscription"
)

// Repository stores delivery facts.
type Repository interface {
	// ListDelivered returns, in one query, which of the given recipients already
	// received the massif's bulletin version on the platform.
	ListDelivered(ctx context.Context, massifCode int, validFrom time.Time, platform subscription.Platform, recipientIDs []string) (map[string]bool, error)
	Create(ctx context.Context, r *Record) error
}
