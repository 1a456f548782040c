package delivery

import (
	"time"

	"bra_notification_bot/internal/domain/subscription"
)

// Record marks that a recipient received one exact bulletin version on a platform.
// Records are written right after a successful send and never updated.
type Record struct {
	RecipientID string
	MassifCode  int
	ValidFrom   time.Time // bulletin version
	Platform    subscription.Platform
	DeliveredAt time.Time
}
