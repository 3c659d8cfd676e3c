package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// SubscriptionRecord is the single source of truth for a user's
// entitlement. One row per user; written exclusively by the engine,
// read-only for the rest of the product.
type SubscriptionRecord struct {
	UserID                uuid.UUID
	Email                 string
	Subscribed            bool
	CurrentPlanSlug       *string
	PreviousPlanSlug      *string // Retained after downgrade for analytics/support
	SubscriptionEnd       *time.Time
	CancelAtPeriodEnd     bool
	PendingDowngradeTo    *string
	PendingDowngradeDate  *time.Time
	GatewaySubscriptionID *string // Present only on the recurring rail
	UpdatedAt             time.Time
}

// OnRecurringRail reports whether the record is billed through the
// recurring-subscription gateway. Absence of a gateway subscription ID
// implies the instant-payment rail.
func (r *SubscriptionRecord) OnRecurringRail() bool {
	return r.GatewaySubscriptionID != nil && *r.GatewaySubscriptionID != ""
}

// GraceDays is the window after period expiry during which entitlement
// is retained. The recurring rail gets one day (its own webhook should
// have already acted, the sweep is a safety net); the instant rail has
// no renewal webhook at all, so users get three days to renew manually.
func (r *SubscriptionRecord) GraceDays() int {
	if r.OnRecurringRail() {
		return 1
	}
	return 3
}

// DaysSinceExpiry returns floor((now - subscriptionEnd) / 1 day).
// The flooring matters: a record expiring at 23:59 checked at 00:01 the
// next day has 0 elapsed days and is not yet swept.
func (r *SubscriptionRecord) DaysSinceExpiry(now time.Time) int {
	if r.SubscriptionEnd == nil {
		return 0
	}
	elapsed := now.Sub(*r.SubscriptionEnd)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed.Hours() / 24)
}

// IsExpired reports whether the paid period has elapsed.
func (r *SubscriptionRecord) IsExpired(now time.Time) bool {
	return r.Subscribed && r.SubscriptionEnd != nil && r.SubscriptionEnd.Before(now)
}

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSettled   IntentStatus = "settled"
	IntentExpired   IntentStatus = "expired"
	IntentCancelled IntentStatus = "cancelled"
	IntentError     IntentStatus = "error"
)

// IsTerminal reports whether the status is final. Terminal intents are
// never resurrected.
func (s IntentStatus) IsTerminal() bool {
	return s != IntentPending
}

// intentStatusFromGateway maps a canonical gateway status onto the
// intent lifecycle.
func intentStatusFromGateway(s gateway.Status) IntentStatus {
	switch s {
	case gateway.StatusSettled:
		return IntentSettled
	case gateway.StatusExpired:
		return IntentExpired
	case gateway.StatusCancelled:
		return IntentCancelled
	case gateway.StatusPending:
		return IntentPending
	default:
		return IntentError
	}
}

// PaymentIntent is one checkout/instant-payment attempt. Created by the
// initiator, mutated only by the reconciler.
type PaymentIntent struct {
	ID          uuid.UUID
	TxID        string // Provider's transaction reference
	UserID      uuid.UUID
	Email       string
	PlanSlug    string
	AmountCents int64
	Rail        gateway.Rail
	Status      IntentStatus
	QRPayload   string // Instant rails only
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// InstantCharge is what the initiator returns to the caller for an
// instant-payment checkout.
type InstantCharge struct {
	IntentID    uuid.UUID
	QRText      string
	QRImage     string // base64 data URI
	AmountCents int64
	ExpiresAt   time.Time
}

// SweepSummary is the per-run observability report of the billing sweep.
type SweepSummary struct {
	Processed  int           `json:"processed"`
	Downgraded int           `json:"downgraded"`
	InGrace    int           `json:"in_grace"`
	Errors     int           `json:"errors"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
