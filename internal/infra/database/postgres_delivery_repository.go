package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bra_notification_bot/internal/domain/delivery"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/lib/pq"
)

type PostgresDeliveryRepository struct {
	db *sql.DB
}

func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

func (r *PostgresDeliveryRepository) ListDelivered(ctx context.Context, massifCode int, validFrom time.Time, platform subscription.Platform, recipientIDs []string) (map[string]bool, error) {
	delivered := make(map[string]bool)
	if len(recipientIDs) == 0 {
		return delivered, nil
	}
	query := `SELECT recipient_id FROM deliveries
               WHERE massif = $1 AND valid_from = $2 AND platform = $3 AND recipient_id = ANY($4)`
	rows, err := r.db.QueryContext(ctx, query, massifCode, validFrom, platform, pq.Array(recipientIDs))
	if err != nil {
		return nil, fmt.Errorf("error checking deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning delivery row: %w", err)
		}
		delivered[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}
	return delivered, nil
}

// Create records a delivery. Recording the same version twice is a no-op.
func (r *PostgresDeliveryRepository) Create(ctx context.Context, rec *delivery.Record) error {
	query := `INSERT INTO deliveries (recipient_id, massif, valid_from, platform, delivered_at)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (recipient_id, massif, valid_from, platform) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, rec.RecipientID, rec.MassifCode, rec.ValidFrom, rec.Platform, rec.DeliveredAt); err != nil {
		return fmt.Errorf("error recording delivery: %w", err)
	}
	return nil
}
