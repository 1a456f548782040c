package geocode

import "context"

// Place is a geocoded location.
type Place struct {
	Lat  float64
	Lng  float64
	Name string // formatted place name
}

// Geocoder resolves free text to a place. A nil Place with a nil error means no result.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*Place, error)
}

// CacheRepository stores geocoding answers keyed by normalized query, including
// negative answers (nil Place) so unknown places are not looked up again.
type CacheRepository interface {
	// Lookup reports hit=false when the query was never cached.
	Lookup(ctx context.Context, query string) (place *Place, hit bool, err error)
	Store(ctx context.Context, query string, place *Place) error
}
