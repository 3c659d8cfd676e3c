package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/notifications"
	"github.com/dmitrymomot/billingkit/pkg/qrcode"
)

// Notifier emits side-effect notification records on user-visible
// transitions. Satisfied by *notifications.Manager.
type Notifier interface {
	Send(ctx context.Context, notif notifications.Notification) error
}

// DiscountResolver resolves a coupon code to a percentage off (0-100).
// Coupon catalog management lives outside the engine; this hook is how
// a resolved discount reaches checkout.
type DiscountResolver func(ctx context.Context, code string) (percentOff int64, err error)

// RoleDemoter demotes a user's product role to the free baseline when
// the sweep downgrades their record.
type RoleDemoter func(ctx context.Context, userID uuid.UUID) error

// Engine is the billing reconciliation and subscription-lifecycle
// engine. It owns every SubscriptionRecord write; the rest of the
// product only reads.
type Engine struct {
	plans        map[string]Plan
	slugByPrice  map[string]string
	recurring    gateway.RecurringProvider
	instant      map[gateway.Rail]gateway.InstantProvider
	records      SubscriptionStore
	intents      IntentStore
	notifier     Notifier
	discounts    DiscountResolver
	demoteRole   RoleDemoter
	log          *slog.Logger
	now          func() time.Time
	successURL   string
	renewalURL   string
	intentTTL    time.Duration
	pollInterval time.Duration
}

// New creates the engine. Panics if required dependencies are nil to
// fail fast during initialization.
func New(ctx context.Context, src PlanSource, recurring gateway.RecurringProvider, records SubscriptionStore, intents IntentStore, opts ...Option) (*Engine, error) {
	if src == nil {
		panic("billing: PlanSource is required")
	}
	if recurring == nil {
		panic("billing: RecurringProvider is required")
	}
	if records == nil {
		panic("billing: SubscriptionStore is required")
	}
	if intents == nil {
		panic("billing: IntentStore is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	slugByPrice := make(map[string]string)
	for slug, plan := range plans {
		if plan.PaddlePriceID != "" {
			slugByPrice[plan.PaddlePriceID] = slug
		}
	}

	e := &Engine{
		plans:        plans,
		slugByPrice:  slugByPrice,
		recurring:    recurring,
		instant:      make(map[gateway.Rail]gateway.InstantProvider),
		records:      records,
		intents:      intents,
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		intentTTL:    30 * time.Minute,
		pollInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateCheckout starts a recurring-rail subscription through the
// hosted checkout flow. No local intent is created: the gateway's own
// webhook is authoritative for this rail.
func (e *Engine) CreateCheckout(ctx context.Context, userID uuid.UUID, email, planSlug, couponCode string) (*gateway.CheckoutLink, error) {
	plan, err := e.resolvePlan(planSlug)
	if err != nil {
		return nil, err
	}
	if plan.PaddlePriceID == "" {
		return nil, errors.Join(ErrInvalidPlanConfiguration,
			fmt.Errorf("plan %s has no recurring-gateway price", planSlug))
	}

	// Coupons on the recurring rail are validated here; the gateway
	// applies its own catalog discounts at checkout time.
	if _, err := e.resolveAmount(ctx, plan.PriceCents, couponCode); err != nil {
		return nil, err
	}

	link, err := e.recurring.CreateCheckout(ctx, gateway.CheckoutRequest{
		PriceID:    plan.PaddlePriceID,
		UserID:     userID.String(),
		Email:      email,
		SuccessURL: e.successURL,
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// CreateInstantCharge mints a QR charge on an instant-payment gateway
// and persists the pending intent. The intent row is written right
// after gateway success, so a crash still leaves a recoverable pending
// record; a failed gateway call leaves no orphan row, and a failed
// intent write voids the minted charge at the gateway.
func (e *Engine) CreateInstantCharge(ctx context.Context, userID uuid.UUID, email, planSlug string, rail gateway.Rail, couponCode string) (*InstantCharge, error) {
	plan, err := e.resolvePlan(planSlug)
	if err != nil {
		return nil, err
	}

	provider, ok := e.instant[rail]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProviderForRail, rail)
	}

	amount, err := e.resolveAmount(ctx, plan.PriceCents, couponCode)
	if err != nil {
		return nil, err
	}

	intentID := uuid.New()
	charge, err := provider.CreateCharge(ctx, gateway.CreateChargeRequest{
		Reference:   intentID.String(),
		AmountCents: amount,
		Description: plan.Name,
		ExpiresIn:   e.intentTTL,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	expiresAt := charge.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(e.intentTTL)
	}

	intent := &PaymentIntent{
		ID:          intentID,
		TxID:        charge.TxID,
		UserID:      userID,
		Email:       email,
		PlanSlug:    plan.Slug,
		AmountCents: amount,
		Rail:        rail,
		Status:      IntentPending,
		QRPayload:   charge.QRText,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := e.intents.Create(ctx, intent); err != nil {
		// Void the minted charge so the user cannot pay against an
		// intent the engine will never reconcile. Best effort: an
		// uncancelled charge expires on its own at the gateway.
		if cancelErr := provider.CancelCharge(ctx, charge.TxID); cancelErr != nil {
			e.log.WarnContext(ctx, "failed to void orphan charge",
				slog.String("rail", string(rail)),
				slog.String("txid", charge.TxID), slog.Any("error", cancelErr))
		}
		return nil, fmt.Errorf("persist payment intent: %w", err)
	}

	qrImage, err := qrcode.GenerateDataURI(charge.QRText, 0)
	if err != nil {
		// The copy-and-paste code still works without the image.
		e.log.WarnContext(ctx, "failed to render QR image",
			slog.String("intent_id", intentID.String()), slog.Any("error", err))
	}

	return &InstantCharge{
		IntentID:    intentID,
		QRText:      charge.QRText,
		QRImage:     qrImage,
		AmountCents: amount,
		ExpiresAt:   expiresAt,
	}, nil
}

// CancelDowngrade reverts a pending plan change before it takes effect.
// The caller must own the record: the supplied gateway subscription ID
// is checked against the caller's own record, never trusted on its own.
func (e *Engine) CancelDowngrade(ctx context.Context, userID uuid.UUID, gatewaySubscriptionID string) error {
	record, err := e.records.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !record.OnRecurringRail() {
		return ErrNotRecurring
	}
	if *record.GatewaySubscriptionID != gatewaySubscriptionID {
		return ErrUnauthorized
	}

	// Gateway side first: releasing a subscription with no schedule
	// attached is a no-op, which makes repeated cancels safe.
	if err := e.recurring.ReleaseSchedule(ctx, gatewaySubscriptionID); err != nil {
		return err
	}

	if err := e.records.ClearPendingChange(ctx, userID, e.now()); err != nil {
		return err
	}
	return nil
}

// GetRecord returns the user's subscription record.
func (e *Engine) GetRecord(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	return e.records.Get(ctx, userID)
}

// GetIntent returns a payment intent by ID.
func (e *Engine) GetIntent(ctx context.Context, intentID uuid.UUID) (*PaymentIntent, error) {
	return e.intents.Get(ctx, intentID)
}

func (e *Engine) resolvePlan(planSlug string) (Plan, error) {
	plan, ok := e.plans[planSlug]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	if !plan.Active {
		return Plan{}, ErrPlanInactive
	}
	return plan, nil
}

func (e *Engine) resolveAmount(ctx context.Context, priceCents int64, couponCode string) (int64, error) {
	if couponCode == "" {
		return priceCents, nil
	}
	if e.discounts == nil {
		return 0, ErrInvalidCoupon
	}
	percentOff, err := e.discounts(ctx, couponCode)
	if err != nil {
		return 0, errors.Join(ErrInvalidCoupon, err)
	}
	if percentOff < 0 || percentOff > 100 {
		return 0, ErrInvalidCoupon
	}
	return priceCents - priceCents*percentOff/100, nil
}

func (e *Engine) planSlugForPrice(priceID string) (string, bool) {
	slug, ok := e.slugByPrice[priceID]
	return slug, ok
}
