// Package geocode resolves place names through the Google Geocoding API,
// fronted by a persistent cache.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bra_notification_bot/internal/domain/geocode"

	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"
)

type GoogleConfig struct {
	APIKey string
	// BaseURL overrides the API host, used in tests.
	BaseURL string
	Timeout time.Duration
}

// GoogleGeocoder biases lookups towards France and answers in French.
type GoogleGeocoder struct {
	client *maps.Client
	logger *logrus.Entry
}

func NewGoogleGeocoder(cfg GoogleConfig, logger *logrus.Entry) (*GoogleGeocoder, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := []maps.ClientOption{
		maps.WithAPIKey(cfg.APIKey),
		maps.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client, logger: logger.WithField("component", "google_geocoder")}, nil
}

// Geocode returns the first result, or nil when the API found nothing.
func (g *GoogleGeocoder) Geocode(ctx context.Context, query string) (*geocode.Place, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  query,
		Region:   "fr",
		Language: "fr",
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if len(results) == 0 {
		g.logger.WithField("query", query).Debug("No geocoding result")
		return nil, nil
	}
	r := results[0]
	return &geocode.Place{
		Lat:  r.Geometry.Location.Lat,
		Lng:  r.Geometry.Location.Lng,
		Name: r.FormattedAddress,
	}, nil
}
