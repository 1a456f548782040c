package subscription

import "context"

// Repository defines the operations for persisting and retrieving subscriptions.
type Repository interface {
	// ListSubscribedMassifCodes returns massifs with at least one subscriber on any platform.
	ListSubscribedMassifCodes(ctx context.Context) ([]int, error)
	// ListSubscribersByMassif groups the subscribers of a platform by massif code.
	ListSubscribersByMassif(ctx context.Context, platform Platform) (map[int][]Subscriber, error)
	Get(ctx context.Context, recipientID string, massifCode int, platform Platform) (*Subscription, error)
	ListByRecipient(ctx context.Context, recipientID string, platform Platform) ([]*Subscription, error)
	Upsert(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, recipientID string, massifCode int, platform Platform) error
	DeleteAll(ctx context.Context, recipientID string, platform Platform) (int64, error)
}
