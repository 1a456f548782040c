package database

import (
	"context"
	"database/sql"
	"fmt"

	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/geo"
)

type PostgresMassifRepository struct {
	db *sql.DB
}

func NewPostgresMassifRepository(db *sql.DB) *PostgresMassifRepository {
	return &PostgresMassifRepository{db: db}
}

// ListAll returns every massif ordered by code. Geometry is parsed here so a
// corrupt boundary fails loudly at startup rather than silently at lookup time.
func (r *PostgresMassifRepository) ListAll(ctx context.Context) ([]*massif.Massif, error) {
	query := `SELECT code, name, COALESCE(mountain, ''), geometry FROM massifs ORDER BY code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing massifs: %w", err)
	}
	defer rows.Close()

	var massifs []*massif.Massif
	for rows.Next() {
		m := &massif.Massif{}
		var geometry []byte
		if err := rows.Scan(&m.Code, &m.Name, &m.Mountain, &geometry); err != nil {
			return nil, fmt.Errorf("error scanning massif row: %w", err)
		}
		if len(geometry) > 0 {
			g, err := geo.ParseGeometry(geometry)
			if err != nil {
				return nil, fmt.Errorf("invalid geometry for massif %d: %w", m.Code, err)
			}
			m.Geometry = g
		}
		massifs = append(massifs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating massif rows: %w", err)
	}
	return massifs, nil
}
