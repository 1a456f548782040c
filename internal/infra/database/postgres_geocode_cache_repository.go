package database

import (
	"context"
	"database/sql"
	"fmt"

	"bra_notification_bot/internal/domain/geocode"
)

type PostgresGeocodeCacheRepository struct {
	db *sql.DB
}

func NewPostgresGeocodeCacheRepository(db *sql.DB) *PostgresGeocodeCacheRepository {
	return &PostgresGeocodeCacheRepository{db: db}
}

func (r *PostgresGeocodeCacheRepository) Lookup(ctx context.Context, query string) (*geocode.Place, bool, error) {
	q := `SELECT found, COALESCE(lat, 0), COALESCE(lng, 0), COALESCE(place_name, '') FROM geocode_cache WHERE query = $1`
	var found bool
	p := &geocode.Place{}
	err := r.db.QueryRowContext(ctx, q, query).Scan(&found, &p.Lat, &p.Lng, &p.Name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error reading geocode cache: %w", err)
	}
	if !found {
		return nil, true, nil
	}
	return p, true, nil
}

// Store caches a geocoding answer. A nil place caches "no result".
func (r *PostgresGeocodeCacheRepository) Store(ctx context.Context, query string, place *geocode.Place) error {
	q := `INSERT INTO geocode_cache (query, found, lat, lng, place_name)
           VALUES ($1, $2, $3, $4, $5)
           ON CONFLICT (query) DO UPDATE SET found = EXCLUDED.found, lat = EXCLUDED.lat,
               lng = EXCLUDED.lng, place_name = EXCLUDED.place_name, created_at = NOW()`
	var lat, lng sql.NullFloat64
	var name sql.NullString
	if place != nil {
		lat = sql.NullFloat64{Float64: place.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: place.Lng, Valid: true}
		name = sql.NullString{String: place.Name, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, q, query, place != nil, lat, lng, name); err != nil {
		return fmt.Errorf("error writing geocode cache: %w", err)
	}
	return nil
}
