package database

import (
	"context"
	"database/sql"
	"fmt"

	"bra_notification_bot/internal/domain/subscription"
)

type PostgresSubscriptionRepository struct {
	db *sql.DB
}

func NewPostgresSubscriptionRepository(db *sql.DB) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

// A NULL bulletin column means enabled. The default is resolved here, once.
const preferenceColumns = `COALESCE(bulletin, TRUE), snow_report, fresh_snow, weather, last_7_days, rose_pentes, montagne_risques`

const subscriptionColumns = `id, recipient_id, massif, platform, ` + preferenceColumns + `, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func preferenceDest(p *subscription.ContentPreferences) []any {
	return []any{&p.Bulletin, &p.SnowReport, &p.FreshSnow, &p.Weather, &p.Last7Days, &p.RosePentes, &p.MontagneRisques}
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	s := &subscription.Subscription{}
	dest := []any{&s.ID, &s.RecipientID, &s.MassifCode, &s.Platform}
	dest = append(dest, preferenceDest(&s.Preferences)...)
	dest = append(dest, &s.CreatedAt, &s.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSubscriptionRepository) ListSubscribedMassifCodes(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT massif FROM subscriptions ORDER BY massif`)
	if err != nil {
		return nil, fmt.Errorf("error listing subscribed massifs: %w", err)
	}
	defer rows.Close()

	var codes []int
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("error scanning massif code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribed massifs: %w", err)
	}
	return codes, nil
}

func (r *PostgresSubscriptionRepository) ListSubscribersByMassif(ctx context.Context, platform subscription.Platform) (map[int][]subscription.Subscriber, error) {
	query := `SELECT massif, recipient_id, ` + preferenceColumns + `
               FROM subscriptions WHERE platform = $1 ORDER BY massif, id`
	rows, err := r.db.QueryContext(ctx, query, platform)
	if err != nil {
		return nil, fmt.Errorf("error listing %s subscribers: %w", platform, err)
	}
	defer rows.Close()

	byMassif := make(map[int][]subscription.Subscriber)
	for rows.Next() {
		var code int
		var s subscription.Subscriber
		dest := append([]any{&code, &s.RecipientID}, preferenceDest(&s.Preferences)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("error scanning subscriber row: %w", err)
		}
		byMassif[code] = append(byMassif[code], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriber rows: %w", err)
	}
	return byMassif, nil
}

func (r *PostgresSubscriptionRepository) Get(ctx context.Context, recipientID string, massifCode int, platform subscription.Platform) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
               WHERE recipient_id = $1 AND massif = $2 AND platform = $3`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, recipientID, massifCode, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("error getting subscription: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriptionRepository) ListByRecipient(ctx context.Context, recipientID string, platform subscription.Platform) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
               WHERE recipient_id = $1 AND platform = $2 ORDER BY massif`
	rows, err := r.db.QueryContext(ctx, query, recipientID, platform)
	if err != nil {
		return nil, fmt.Errorf("error listing subscriptions of recipient: %w", err)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning subscription row: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return subs, nil
}

// Upsert creates the subscription or replaces the preference vector of the
// existing (recipient, massif, platform) row.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, s *subscription.Subscription) error {
	query := `INSERT INTO subscriptions (recipient_id, massif, platform, bulletin, snow_report, fresh_snow, weather, last_7_days, rose_pentes, montagne_risques)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               ON CONFLICT (recipient_id, massif, platform) DO UPDATE SET
                   bulletin = EXCLUDED.bulletin,
                   snow_report = EXCLUDED.snow_report,
                   fresh_snow = EXCLUDED.fresh_snow,
                   weather = EXCLUDED.weather,
                   last_7_days = EXCLUDED.last_7_days,
                   rose_pentes = EXCLUDED.rose_pentes,
                   montagne_risques = EXCLUDED.montagne_risques,
                   updated_at = NOW()
               RETURNING id, created_at, updated_at`
	p := s.Preferences
	err := r.db.QueryRowContext(ctx, query,
		s.RecipientID, s.MassifCode, s.Platform,
		p.Bulletin, p.SnowReport, p.FreshSnow, p.Weather, p.Last7Days, p.RosePentes, p.MontagneRisques,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, recipientID string, massifCode int, platform subscription.Platform) error {
	query := `DELETE FROM subscriptions WHERE recipient_id = $1 AND massif = $2 AND platform = $3`
	res, err := r.db.ExecContext(ctx, query, recipientID, massifCode, platform)
	if err != nil {
		return fmt.Errorf("error deleting subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deleted rows: %w", err)
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepository) DeleteAll(ctx context.Context, recipientID string, platform subscription.Platform) (int64, error) {
	query := `DELETE FROM subscriptions WHERE recipient_id = $1 AND platform = $2`
	res, err := r.db.ExecContext(ctx, query, recipientID, platform)
	if err != nil {
		return 0, fmt.Errorf("error deleting subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading deleted rows: %w", err)
	}
	return n, nil
}
