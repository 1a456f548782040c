package cronrun

import "context"

type Repository interface {
	Create(ctx context.Context, e *Execution) error
	ListRecent(ctx context.Context, limit int) ([]*Execution, error)
}
