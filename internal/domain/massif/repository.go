package massif

import "context"

// Repository loads the massif reference data.
type Repository interface {
	ListAll(ctx context.Context) ([]*Massif, error)
}
