package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bra_notification_bot/internal/domain/bulletin"

	"github.com/lib/pq"
)

type PostgresBulletinRepository struct {
	db *sql.DB
}

func NewPostgresBulletinRepository(db *sql.DB) *PostgresBulletinRepository {
	return &PostgresBulletinRepository{db: db}
}

// LatestValidFromByMassif returns the maximum stored valid_from per massif.
// Massifs without any bulletin are absent from the map.
func (r *PostgresBulletinRepository) LatestValidFromByMassif(ctx context.Context, codes []int) (map[int]time.Time, error) {
	latest := make(map[int]time.Time, len(codes))
	if len(codes) == 0 {
		return latest, nil
	}
	query := `SELECT massif, MAX(valid_from) FROM bulletins WHERE massif = ANY($1) GROUP BY massif`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(toInt64s(codes)))
	if err != nil {
		return nil, fmt.Errorf("error loading latest bulletins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code int
		var validFrom time.Time
		if err := rows.Scan(&code, &validFrom); err != nil {
			return nil, fmt.Errorf("error scanning latest bulletin row: %w", err)
		}
		latest[code] = validFrom
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest bulletin rows: %w", err)
	}
	return latest, nil
}

func (r *PostgresBulletinRepository) GetLatest(ctx context.Context, massifCode int) (*bulletin.Bulletin, error) {
	query := `SELECT id, massif, valid_from, valid_to, risk_level, filename, public_url, created_at
               FROM bulletins WHERE massif = $1 ORDER BY valid_from DESC LIMIT 1`
	b := &bulletin.Bulletin{}
	err := r.db.QueryRowContext(ctx, query, massifCode).Scan(&b.ID, &b.MassifCode, &b.ValidFrom, &b.ValidTo, &b.RiskLevel, &b.Filename, &b.PublicURL, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBulletinNotFound
		}
		return nil, fmt.Errorf("error getting latest bulletin for massif %d: %w", massifCode, err)
	}
	return b, nil
}

// ListLatest loads the max valid_from row of every given massif.
func (r *PostgresBulletinRepository) ListLatest(ctx context.Context, codes []int) ([]*bulletin.Bulletin, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT ON (massif) id, massif, valid_from, valid_to, risk_level, filename, public_url, created_at
               FROM bulletins WHERE massif = ANY($1) ORDER BY massif, valid_from DESC`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(toInt64s(codes)))
	if err != nil {
		return nil, fmt.Errorf("error listing latest bulletins: %w", err)
	}
	defer rows.Close()

	var out []*bulletin.Bulletin
	for rows.Next() {
		b := &bulletin.Bulletin{}
		if err := rows.Scan(&b.ID, &b.MassifCode, &b.ValidFrom, &b.ValidTo, &b.RiskLevel, &b.Filename, &b.PublicURL, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning bulletin row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bulletin rows: %w", err)
	}
	return out, nil
}

// BulkCreate inserts all bulletins with one multi-row statement. A version
// that already exists is left untouched.
func (r *PostgresBulletinRepository) BulkCreate(ctx context.Context, bulletins []*bulletin.Bulletin) error {
	if len(bulletins) == 0 {
		return nil
	}

	const cols = 7
	var sb strings.Builder
	sb.WriteString(`INSERT INTO bulletins (massif, valid_from, valid_to, risk_level, filename, public_url, created_at) VALUES `)
	args := make([]any, 0, len(bulletins)*cols)
	for i, b := range bulletins {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, b.MassifCode, b.ValidFrom, b.ValidTo, b.RiskLevel, b.Filename, b.PublicURL, b.CreatedAt)
	}
	sb.WriteString(` ON CONFLICT (massif, valid_from) DO NOTHING`)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("error bulk inserting %d bulletins: %w", len(bulletins), err)
	}
	return nil
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
