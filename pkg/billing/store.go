package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// SubscriptionStore persists SubscriptionRecords. Every mutating method
// that races with another writer is a conditional update keyed on the
// record's current state, so sweep and reconciler cannot lose updates
// when they touch the same row.
type SubscriptionStore interface {
	// Get retrieves a record by user ID. Returns ErrRecordNotFound when
	// the user has no record yet.
	Get(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error)

	// Activate applies the settle transition: upsert the record with
	// subscribed=true, the new plan and period end, and clear any
	// pending-downgrade and cancel-at-period-end flags. The gateway
	// subscription ID is overwritten with the given value, so an
	// instant-rail settle (nil) drops a stale recurring-gateway link
	// and the record falls back to the instant grace window.
	Activate(ctx context.Context, params ActivateParams) error

	// ListExpired returns records with subscribed=true and
	// subscriptionEnd < now. The subscribed=true predicate is what makes
	// re-running the sweep a no-op.
	ListExpired(ctx context.Context, now time.Time) ([]SubscriptionRecord, error)

	// Downgrade flips an entitled record to the free baseline, guarded by
	// "only if still subscribed". Returns false when the guard failed,
	// i.e. another pass already downgraded the record.
	Downgrade(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)

	// SetCancelAtPeriodEnd marks a user-requested cancellation that keeps
	// entitlement until the period end.
	SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, now time.Time) error

	// SetPendingDowngrade mirrors a gateway-side scheduled plan change.
	SetPendingDowngrade(ctx context.Context, userID uuid.UUID, planSlug *string, date *time.Time, now time.Time) error

	// ClearPendingChange clears pending-downgrade fields and
	// cancel-at-period-end in one step. No-op when nothing is pending.
	ClearPendingChange(ctx context.Context, userID uuid.UUID, now time.Time) error
}

// ActivateParams carries the settle transition payload.
type ActivateParams struct {
	UserID                uuid.UUID
	Email                 string
	PlanSlug              string
	SubscriptionEnd       time.Time
	GatewaySubscriptionID *string // nil on the instant rails
	Now                   time.Time
}

// IntentStore persists PaymentIntents.
type IntentStore interface {
	// Create persists a freshly minted pending intent.
	Create(ctx context.Context, intent *PaymentIntent) error

	// Get retrieves an intent by internal ID. Returns ErrIntentNotFound.
	Get(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)

	// GetByProviderRef retrieves an intent by (rail, provider txid).
	// Returns ErrIntentNotFound.
	GetByProviderRef(ctx context.Context, rail gateway.Rail, txID string) (*PaymentIntent, error)

	// MarkStatus transitions an intent to a terminal status, guarded by
	// "only if still pending". Returns false when the intent was already
	// terminal, which makes every settle path at-most-once.
	MarkStatus(ctx context.Context, id uuid.UUID, status IntentStatus) (bool, error)
}
