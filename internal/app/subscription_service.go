package app

import (
	"context"
	"errors"
	"fmt"

	"bra_notification_bot/internal/domain/subscription"
	idb "bra_notification_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownMassif     = fmt.Errorf("unknown massif")
	ErrNotSubscribed     = fmt.Errorf("not subscribed to this massif")
	ErrNoContentSelected = fmt.Errorf("at least one content type must stay enabled")
)

// SubscriptionService manages the (recipient, massif, platform) subscriptions.
type SubscriptionService struct {
	subsRepo subscription.Repository
	massifs  MassifLookup
	logger   *logrus.Entry
}

func NewSubscriptionService(sr subscription.Repository, massifs MassifLookup, logger *logrus.Entry) *SubscriptionService {
	return &SubscriptionService{
		subsRepo: sr,
		massifs:  massifs,
		logger:   logger.WithField("component", "subscription_service"),
	}
}

// Subscribe creates or replaces a subscription. An empty preference vector
// falls back to the default (bulletin only).
func (s *SubscriptionService) Subscribe(ctx context.Context, platform subscription.Platform, recipientID string, massifCode int, prefs subscription.ContentPreferences) (*subscription.Subscription, error) {
	if s.massifs.ByCode(massifCode) == nil {
		return nil, ErrUnknownMassif
	}
	if prefs.IsEmpty() {
		prefs = subscription.DefaultPreferences()
	}
	sub := &subscription.Subscription{
		RecipientID: recipientID,
		MassifCode:  massifCode,
		Platform:    platform,
		Preferences: prefs,
	}
	if err := s.subsRepo.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"platform": platform, "recipient": recipientID, "massif": massifCode}).Info("Subscription saved")
	return sub, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, platform subscription.Platform, recipientID string, massifCode int) error {
	err := s.subsRepo.Delete(ctx, recipientID, massifCode, platform)
	if errors.Is(err, idb.ErrSubscriptionNotFound) {
		return ErrNotSubscribed
	}
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"platform": platform, "recipient": recipientID, "massif": massifCode}).Info("Subscription removed")
	return nil
}

// UnsubscribeAll removes every subscription of the recipient and returns how many were removed.
func (s *SubscriptionService) UnsubscribeAll(ctx context.Context, platform subscription.Platform, recipientID string) (int64, error) {
	n, err := s.subsRepo.DeleteAll(ctx, recipientID, platform)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"platform": platform, "recipient": recipientID, "removed": n}).Info("All subscriptions removed")
	return n, nil
}

func (s *SubscriptionService) ListForRecipient(ctx context.Context, platform subscription.Platform, recipientID string) ([]*subscription.Subscription, error) {
	subs, err := s.subsRepo.ListByRecipient(ctx, recipientID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionService) Get(ctx context.Context, platform subscription.Platform, recipientID string, massifCode int) (*subscription.Subscription, error) {
	sub, err := s.subsRepo.Get(ctx, recipientID, massifCode, platform)
	if errors.Is(err, idb.ErrSubscriptionNotFound) {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ToggleContent flips one content type of an existing subscription. Turning
// off the last enabled type is refused; unsubscribing is the way to stop everything.
func (s *SubscriptionService) ToggleContent(ctx context.Context, platform subscription.Platform, recipientID string, massifCode int, ct subscription.ContentType) (*subscription.Subscription, error) {
	sub, err := s.Get(ctx, platform, recipientID, massifCode)
	if err != nil {
		return nil, err
	}
	prefs := sub.Preferences
	prefs.Toggle(ct)
	if prefs.IsEmpty() {
		return sub, ErrNoContentSelected
	}
	sub.Preferences = prefs
	if err := s.subsRepo.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}
