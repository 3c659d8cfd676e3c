package gateway

import (
	"context"
	"time"
)

// Rail identifies a payment provider integration.
type Rail string

const (
	RailRecurring Rail = "recurring"
	RailInstantA  Rail = "instant-a"
	RailInstantB  Rail = "instant-b"
)

// IsInstant reports whether the rail is one of the instant-payment gateways.
func (r Rail) IsInstant() bool {
	return r == RailInstantA || r == RailInstantB
}

// Status is the canonical payment status every provider state maps onto.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal intents are
// never resurrected.
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusExpired || s == StatusCancelled
}

// CreateChargeRequest describes a new instant-payment charge.
type CreateChargeRequest struct {
	Reference   string // Internal intent ID, echoed back by the provider
	AmountCents int64
	Description string
	ExpiresIn   time.Duration
}

// Charge is a minted instant-payment charge.
type Charge struct {
	TxID      string // Provider's transaction reference
	QRText    string // Copy-and-paste payment code
	ExpiresAt time.Time
}

// InstantProvider is the polymorphic capability shared by the instant
// payment gateways: mint a charge, poll its status. Both gateways are
// structurally identical, so there is one client parameterized per
// provider rather than duplicated logic.
type InstantProvider interface {
	Rail() Rail
	CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error)
	CheckStatus(ctx context.Context, txID string) (Status, error)

	// CancelCharge voids a charge that will never be reconciled, such
	// as one minted right before local persistence failed. Cancelling
	// an already-gone charge is not an error.
	CancelCharge(ctx context.Context, txID string) error

	// NormalizeStatus maps a provider-specific state string onto the
	// canonical statuses. Used by webhook handlers, which receive the
	// provider vocabulary directly.
	NormalizeStatus(providerStatus string) (Status, error)
}

// CheckoutRequest describes a recurring-rail hosted checkout.
type CheckoutRequest struct {
	PriceID    string // Provider's price identifier for the plan
	UserID     string // Internal user ID, carried in custom data
	Email      string
	SuccessURL string
}

// CheckoutLink is a hosted checkout session on the recurring rail.
type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// EventType is the normalized recurring-rail webhook event type.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription_activated"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventPaymentFailed         EventType = "payment_failed"
	EventUnknown               EventType = "unknown"
)

// ScheduledChange mirrors a provider-side pending plan change.
type ScheduledChange struct {
	Action      string // e.g. "cancel", "pause", or a downgrade
	TargetPrice string // Price the subscription changes to, when known
	EffectiveAt time.Time
}

// WebhookEvent is a normalized recurring-rail webhook event.
type WebhookEvent struct {
	Type            EventType
	EventID         string // Provider's delivery ID, used for dedup
	ProviderEvent   string // Original provider event name
	SubscriptionID  string // Provider's subscription ID
	UserID          string // Internal user ID from custom data
	Status          string // Provider's subscription status string
	PriceID         string
	PeriodEnd       *time.Time // End of the current paid period
	ScheduledChange *ScheduledChange
	Raw             map[string]any
}

// RecurringProvider is the recurring-subscription gateway: hosted
// checkout, signed webhooks, and release of scheduled plan changes.
type RecurringProvider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// ParseWebhook validates the provider signature and normalizes the
	// payload. No payload is trusted before verification succeeds.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)

	// ReleaseSchedule removes any scheduled change (including a pending
	// cancellation) from the gateway subscription. A subscription with no
	// schedule attached is a no-op, not an error.
	ReleaseSchedule(ctx context.Context, subscriptionID string) error
}
