package geocode

import (
	"context"

	"bra_notification_bot/internal/domain/geocode"
	"bra_notification_bot/internal/textnorm"

	"github.com/sirupsen/logrus"
)

// CachedGeocoder answers from the cache when it can and stores every upstream
// answer, including "not found". Cache failures degrade to a direct lookup.
type CachedGeocoder struct {
	upstream geocode.Geocoder
	cache    geocode.CacheRepository
	logger   *logrus.Entry
}

func NewCachedGeocoder(upstream geocode.Geocoder, cache geocode.CacheRepository, logger *logrus.Entry) *CachedGeocoder {
	return &CachedGeocoder{
		upstream: upstream,
		cache:    cache,
		logger:   logger.WithField("component", "cached_geocoder"),
	}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (*geocode.Place, error) {
	key := textnorm.Normalize(query)
	if key == "" {
		return nil, nil
	}
	log := c.logger.WithField("query", key)

	place, hit, err := c.cache.Lookup(ctx, key)
	switch {
	case err != nil:
		log.WithError(err).Warn("Geocode cache lookup failed")
	case hit:
		log.Debug("Geocode cache hit")
		return place, nil
	}

	place, err = c.upstream.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Store(ctx, key, place); err != nil {
		log.WithError(err).Warn("Failed to store geocode result")
	}
	return place, nil
}
