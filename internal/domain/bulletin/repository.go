package bulletin

import (
	"context"
	"time"
)

// Repository persists bulletin versions.
type Repository interface {
	// LatestValidFromByMassif returns the maximum stored ValidFrom per massif.
	// Massifs without any stored bulletin are absent from the map.
	LatestValidFromByMassif(ctx context.Context, massifCodes []int) (map[int]time.Time, error)
	// GetLatest returns the current bulletin of a massif (max ValidFrom).
	GetLatest(ctx context.Context, massifCode int) (*Bulletin, error)
	// ListLatest returns the current bulletin of each given massif in one query.
	// Massifs without any stored bulletin are skipped.
	ListLatest(ctx context.Context, massifCodes []int) ([]*Bulletin, error)
	// BulkCreate inserts all bulletins in a single statement.
	BulkCreate(ctx context.Context, bulletins []*Bulletin) error
}
