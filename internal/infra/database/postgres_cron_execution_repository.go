package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bra_notification_bot/internal/domain/cronrun"
)

type PostgresCronExecutionRepository struct {
	db *sql.DB
}

func NewPostgresCronExecutionRepository(db *sql.DB) *PostgresCronExecutionRepository {
	return &PostgresCronExecutionRepository{db: db}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresCronExecutionRepository) Create(ctx context.Context, e *cronrun.Execution) error {
	query := `INSERT INTO cron_executions (id, status, started_at, duration_ms, massifs_checked, bulletins_new,
                   bulletins_updated, bulletins_stored, deliveries_sent, failures, failed_stage, summary, error)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Status, e.StartedAt, e.Duration.Milliseconds(),
		e.MassifsChecked, e.BulletinsNew, e.BulletinsUpdated, e.BulletinsStored, e.DeliveriesSent, e.Failures,
		nullIfEmpty(e.FailedStage), e.Summary, nullIfEmpty(e.Error),
	)
	if err != nil {
		return fmt.Errorf("error creating cron execution: %w", err)
	}
	return nil
}

func (r *PostgresCronExecutionRepository) ListRecent(ctx context.Context, limit int) ([]*cronrun.Execution, error) {
	query := `SELECT id, status, started_at, duration_ms, massifs_checked, bulletins_new, bulletins_updated,
                   bulletins_stored, deliveries_sent, failures, COALESCE(failed_stage, ''), summary, COALESCE(error, '')
               FROM cron_executions ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing cron executions: %w", err)
	}
	defer rows.Close()

	var executions []*cronrun.Execution
	for rows.Next() {
		e := &cronrun.Execution{}
		var durationMs int64
		if err := rows.Scan(&e.ID, &e.Status, &e.StartedAt, &durationMs, &e.MassifsChecked, &e.BulletinsNew,
			&e.BulletinsUpdated, &e.BulletinsStored, &e.DeliveriesSent, &e.Failures, &e.FailedStage, &e.Summary, &e.Error); err != nil {
			return nil, fmt.Errorf("error scanning cron execution row: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cron execution rows: %w", err)
	}
	return executions, nil
}
