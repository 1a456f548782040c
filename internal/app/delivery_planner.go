package app

import (
	"context"
	"fmt"

	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/delivery"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

// Destination is one massif's new bulletin fanned out to the subscribers that
// have not received this version yet.
type Destination struct {
	Bulletin   *bulletin.Bulletin
	MassifName string
	Platform   subscription.Platform
	Recipients []subscription.Subscriber
}

// DeliveryPlanner expands subscriber lists into deduplicated destinations.
type DeliveryPlanner struct {
	subsRepo     subscription.Repository
	deliveryRepo delivery.Repository
	massifs      MassifLookup
	logger       *logrus.Entry
}

func NewDeliveryPlanner(sr subscription.Repository, dr delivery.Repository, massifs MassifLookup, logger *logrus.Entry) *DeliveryPlanner {
	return &DeliveryPlanner{
		subsRepo:     sr,
		deliveryRepo: dr,
		massifs:      massifs,
		logger:       logger.WithField("component", "delivery_planner"),
	}
}

// GenerateSubscriptionDestinations loads the platform's subscribers grouped by
// massif and plans destinations for the given bulletins.
func (p *DeliveryPlanner) GenerateSubscriptionDestinations(ctx context.Context, bulletins []*bulletin.Bulletin, platform subscription.Platform) ([]Destination, error) {
	if len(bulletins) == 0 {
		return nil, nil
	}
	byMassif, err := p.subsRepo.ListSubscribersByMassif(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s subscribers: %w", platform, err)
	}
	return p.Plan(ctx, bulletins, byMassif, platform)
}

// Plan keeps, per bulletin, only the subscribers without a delivery record for
// that exact version. One delivery lookup per massif. A massif whose
// subscribers all have the version contributes nothing.
func (p *DeliveryPlanner) Plan(ctx context.Context, bulletins []*bulletin.Bulletin, byMassif map[int][]subscription.Subscriber, platform subscription.Platform) ([]Destination, error) {
	var destinations []Destination
	for _, b := range bulletins {
		subs := byMassif[b.MassifCode]
		if len(subs) == 0 {
			continue
		}

		ids := make([]string, len(subs))
		for i, s := range subs {
			ids[i] = s.RecipientID
		}
		delivered, err := p.deliveryRepo.ListDelivered(ctx, b.MassifCode, b.ValidFrom, platform, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to check deliveries for massif %d: %w", b.MassifCode, err)
		}

		pending := make([]subscription.Subscriber, 0, len(subs))
		seen := make(map[string]bool, len(subs))
		for _, s := range subs {
			if delivered[s.RecipientID] || seen[s.RecipientID] {
				continue
			}
			seen[s.RecipientID] = true
			pending = append(pending, s)
		}
		if len(pending) == 0 {
			p.logger.WithFields(logrus.Fields{"massif": b.MassifCode, "platform": platform}).Debug("All subscribers already have this bulletin")
			continue
		}

		name := fmt.Sprintf("Massif %d", b.MassifCode)
		if m := p.massifs.ByCode(b.MassifCode); m != nil {
			name = m.Name
		}
		destinations = append(destinations, Destination{
			Bulletin:   b,
			MassifName: name,
			Platform:   platform,
			Recipients: pending,
		})
	}

	p.logger.WithFields(logrus.Fields{"platform": platform, "destinations": len(destinations)}).Info("Delivery plan ready")
	return destinations, nil
}
