package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// PGSubscriptionStore is the PostgreSQL SubscriptionStore. Conditional
// guards live in the SQL itself (WHERE subscribed = true etc.), so
// concurrent writers resolve on the database row, not in memory.
type PGSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPGSubscriptionStore creates a store backed by the given pool.
func NewPGSubscriptionStore(pool *pgxpool.Pool) *PGSubscriptionStore {
	return &PGSubscriptionStore{pool: pool}
}

const subscriptionColumns = `user_id, email, subscribed, current_plan_slug, previous_plan_slug,
	subscription_end, cancel_at_period_end, pending_downgrade_to, pending_downgrade_date,
	gateway_subscription_id, updated_at`

func (s *PGSubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscription_records WHERE user_id = $1`, userID)

	var record SubscriptionRecord
	err := row.Scan(&record.UserID, &record.Email, &record.Subscribed,
		&record.CurrentPlanSlug, &record.PreviousPlanSlug, &record.SubscriptionEnd,
		&record.CancelAtPeriodEnd, &record.PendingDowngradeTo, &record.PendingDowngradeDate,
		&record.GatewaySubscriptionID, &record.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get subscription record: %w", err)
	}
	return &record, nil
}

func (s *PGSubscriptionStore) Activate(ctx context.Context, params ActivateParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_records (
			user_id, email, subscribed, current_plan_slug, subscription_end,
			cancel_at_period_end, pending_downgrade_to, pending_downgrade_date,
			gateway_subscription_id, updated_at
		) VALUES ($1, $2, true, $3, $4, false, NULL, NULL, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			subscribed = true,
			current_plan_slug = EXCLUDED.current_plan_slug,
			subscription_end = EXCLUDED.subscription_end,
			cancel_at_period_end = false,
			pending_downgrade_to = NULL,
			pending_downgrade_date = NULL,
			gateway_subscription_id = EXCLUDED.gateway_subscription_id,
			updated_at = EXCLUDED.updated_at`,
		params.UserID, params.Email, params.PlanSlug, params.SubscriptionEnd,
		params.GatewaySubscriptionID, params.Now)
	if err != nil {
		return fmt.Errorf("activate subscription record: %w", err)
	}
	return nil
}

func (s *PGSubscriptionStore) ListExpired(ctx context.Context, now time.Time) ([]SubscriptionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscription_records
		 WHERE subscribed = true AND subscription_end < $1
		 ORDER BY subscription_end`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired records: %w", err)
	}
	defer rows.Close()

	var records []SubscriptionRecord
	for rows.Next() {
		var record SubscriptionRecord
		if err := rows.Scan(&record.UserID, &record.Email, &record.Subscribed,
			&record.CurrentPlanSlug, &record.PreviousPlanSlug, &record.SubscriptionEnd,
			&record.CancelAtPeriodEnd, &record.PendingDowngradeTo, &record.PendingDowngradeDate,
			&record.GatewaySubscriptionID, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan expired record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PGSubscriptionStore) Downgrade(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscription_records SET
			subscribed = false,
			previous_plan_slug = current_plan_slug,
			current_plan_slug = NULL,
			subscription_end = NULL,
			cancel_at_period_end = false,
			pending_downgrade_to = NULL,
			pending_downgrade_date = NULL,
			updated_at = $2
		WHERE user_id = $1 AND subscribed = true`, userID, now)
	if err != nil {
		return false, fmt.Errorf("downgrade subscription record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGSubscriptionStore) SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscription_records SET cancel_at_period_end = $2, updated_at = $3 WHERE user_id = $1`,
		userID, cancel, now)
	if err != nil {
		return fmt.Errorf("set cancel at period end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PGSubscriptionStore) SetPendingDowngrade(ctx context.Context, userID uuid.UUID, planSlug *string, date *time.Time, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscription_records SET pending_downgrade_to = $2, pending_downgrade_date = $3, updated_at = $4
		 WHERE user_id = $1`, userID, planSlug, date, now)
	if err != nil {
		return fmt.Errorf("set pending downgrade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PGSubscriptionStore) ClearPendingChange(ctx context.Context, userID uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscription_records SET
			pending_downgrade_to = NULL,
			pending_downgrade_date = NULL,
			cancel_at_period_end = false,
			updated_at = $2
		WHERE user_id = $1`, userID, now)
	if err != nil {
		return fmt.Errorf("clear pending change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// PGIntentStore is the PostgreSQL IntentStore.
type PGIntentStore struct {
	pool *pgxpool.Pool
}

// NewPGIntentStore creates a store backed by the given pool.
func NewPGIntentStore(pool *pgxpool.Pool) *PGIntentStore {
	return &PGIntentStore{pool: pool}
}

const intentColumns = `id, txid, user_id, email, plan_slug, amount_cents, rail, status,
	qr_payload, created_at, expires_at`

func (s *PGIntentStore) Create(ctx context.Context, intent *PaymentIntent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		intent.ID, intent.TxID, intent.UserID, intent.Email, intent.PlanSlug,
		intent.AmountCents, intent.Rail, intent.Status, intent.QRPayload,
		intent.CreatedAt, intent.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}
	return nil
}

func (s *PGIntentStore) Get(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (s *PGIntentStore) GetByProviderRef(ctx context.Context, rail gateway.Rail, txID string) (*PaymentIntent, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE rail = $1 AND txid = $2`, rail, txID))
}

type pgRow interface {
	Scan(dest ...any) error
}

func (s *PGIntentStore) scanOne(row pgRow) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := row.Scan(&intent.ID, &intent.TxID, &intent.UserID, &intent.Email,
		&intent.PlanSlug, &intent.AmountCents, &intent.Rail, &intent.Status,
		&intent.QRPayload, &intent.CreatedAt, &intent.ExpiresAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return &intent, nil
}

func (s *PGIntentStore) MarkStatus(ctx context.Context, id uuid.UUID, status IntentStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_intents SET status = $2 WHERE id = $1 AND status = 'pending'`,
		id, status)
	if err != nil {
		return false, fmt.Errorf("mark payment intent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
