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
)

// CheckIntent is the pull path: ask the gateway whether a pending
// intent settled and apply the result. Safe to call any number of
// times; terminal intents short-circuit.
func (e *Engine) CheckIntent(ctx context.Context, intentID uuid.UUID) (IntentStatus, error) {
	intent, err := e.intents.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if intent.Status.IsTerminal() {
		return intent.Status, nil
	}

	// Past the deadline the charge is dead regardless of what the
	// gateway would answer; expire locally and stop polling for good.
	if e.now().After(intent.ExpiresAt) {
		if _, err := e.intents.MarkStatus(ctx, intent.ID, IntentExpired); err != nil {
			return "", err
		}
		return IntentExpired, nil
	}

	provider, ok := e.instant[intent.Rail]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProviderForRail, intent.Rail)
	}

	status, err := provider.CheckStatus(ctx, intent.TxID)
	if err != nil {
		return "", err
	}

	return e.applyStatus(ctx, intent, status)
}

// HandleInstantWebhook is the push path for the instant rails. The
// caller has already verified the provider signature and deduplicated
// the delivery; providerStatus is still in the provider's vocabulary.
// Unknown intents are logged and ignored so replayed or foreign
// deliveries cannot fail the endpoint.
func (e *Engine) HandleInstantWebhook(ctx context.Context, rail gateway.Rail, txID, providerStatus string) error {
	provider, ok := e.instant[rail]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProviderForRail, rail)
	}

	status, err := provider.NormalizeStatus(providerStatus)
	if err != nil {
		return err
	}

	intent, err := e.intents.GetByProviderRef(ctx, rail, txID)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			e.log.WarnContext(ctx, "webhook for unknown intent",
				slog.String("rail", string(rail)), slog.String("txid", txID))
			return nil
		}
		return err
	}
	if intent.Status.IsTerminal() {
		return nil
	}

	_, err = e.applyStatus(ctx, intent, status)
	return err
}

// applyStatus applies a canonical gateway status to a pending intent.
// Settlement grants entitlement exactly once; expiry and cancellation
// only mark the intent and never touch the SubscriptionRecord, so a
// failed new payment cannot downgrade an already-entitled user.
func (e *Engine) applyStatus(ctx context.Context, intent *PaymentIntent, status gateway.Status) (IntentStatus, error) {
	switch status {
	case gateway.StatusPending:
		return IntentPending, nil
	case gateway.StatusSettled:
		if err := e.settle(ctx, intent); err != nil {
			return "", err
		}
		return IntentSettled, nil
	default:
		next := intentStatusFromGateway(status)
		if _, err := e.intents.MarkStatus(ctx, intent.ID, next); err != nil {
			return "", err
		}
		return next, nil
	}
}

// settle performs the pending→settled transition: upsert the record,
// mark the intent, emit the success notification. The record write comes
// first so a transient store failure leaves the intent pending and the
// next poll or webhook retries the whole transition. The conditional
// MarkStatus is the at-most-once guard: a duplicate webhook and a
// concurrent poll race to it and exactly one wins the notification.
func (e *Engine) settle(ctx context.Context, intent *PaymentIntent) error {
	plan, ok := e.plans[intent.PlanSlug]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, intent.PlanSlug)
	}

	now := e.now()
	if err := e.records.Activate(ctx, ActivateParams{
		UserID:          intent.UserID,
		Email:           intent.Email,
		PlanSlug:        intent.PlanSlug,
		SubscriptionEnd: now.AddDate(0, 0, plan.IntervalDays),
		Now:             now,
	}); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	applied, err := e.intents.MarkStatus(ctx, intent.ID, IntentSettled)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	e.notify(ctx, notifications.Notification{
		UserID:  intent.UserID.String(),
		Email:   intent.Email,
		Event:   notifications.EventPaymentSuccess,
		Type:    notifications.TypeSuccess,
		Title:   "Payment confirmed",
		Message: fmt.Sprintf("Your %s subscription is active.", plan.Name),
		Data: map[string]any{
			"plan_slug":    plan.Slug,
			"amount_cents": intent.AmountCents,
			"intent_id":    intent.ID.String(),
		},
	})

	e.log.InfoContext(ctx, "payment intent settled",
		slog.String("intent_id", intent.ID.String()),
		slog.String("user_id", intent.UserID.String()),
		slog.String("plan_slug", plan.Slug))
	return nil
}

// HandleRecurringWebhook applies a verified recurring-gateway event to
// the subscription record.
func (e *Engine) HandleRecurringWebhook(ctx context.Context, event *gateway.WebhookEvent) error {
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return fmt.Errorf("invalid user ID in webhook: %w", err)
	}

	switch event.Type {
	case gateway.EventSubscriptionActivated:
		return e.activateFromEvent(ctx, userID, event)

	case gateway.EventSubscriptionUpdated:
		// A renewal moves the period end forward; re-activate with the
		// fresh period. Scheduled changes are mirrored so the sweep and
		// the cancel-downgrade flow see gateway state locally.
		if event.Status == "active" && event.PeriodEnd != nil {
			if err := e.activateFromEvent(ctx, userID, event); err != nil {
				return err
			}
		}
		return e.mirrorScheduledChange(ctx, userID, event)

	case gateway.EventSubscriptionCancelled:
		applied, err := e.records.Downgrade(ctx, userID, e.now())
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				e.log.WarnContext(ctx, "cancellation webhook for unknown record",
					slog.String("user_id", event.UserID))
				return nil
			}
			return err
		}
		if applied {
			e.notifyDowngrade(ctx, userID.String(), "", notifications.EventSubscriptionCancelled)
		}
		return nil

	case gateway.EventPaymentFailed:
		// Entitlement is untouched: the sweep downgrades after grace if
		// no successful renewal arrives.
		e.log.InfoContext(ctx, "recurring payment failed",
			slog.String("user_id", event.UserID),
			slog.String("subscription_id", event.SubscriptionID))
		return nil

	default:
		e.log.DebugContext(ctx, "ignoring recurring webhook event",
			slog.String("event", event.ProviderEvent))
		return nil
	}
}

func (e *Engine) activateFromEvent(ctx context.Context, userID uuid.UUID, event *gateway.WebhookEvent) error {
	slug, ok := e.planSlugForPrice(event.PriceID)
	if !ok {
		return fmt.Errorf("%w: no plan for price %s", ErrPlanNotFound, event.PriceID)
	}
	plan := e.plans[slug]

	now := e.now()
	end := now.AddDate(0, 0, plan.IntervalDays)
	if event.PeriodEnd != nil {
		end = *event.PeriodEnd
	}

	var subID *string
	if event.SubscriptionID != "" {
		subID = &event.SubscriptionID
	}
	email := ""
	if raw, ok := event.Raw["custom_data"].(map[string]any); ok {
		if v, ok := raw["email"].(string); ok {
			email = v
		}
	}

	if err := e.records.Activate(ctx, ActivateParams{
		UserID:                userID,
		Email:                 email,
		PlanSlug:              slug,
		SubscriptionEnd:       end,
		GatewaySubscriptionID: subID,
		Now:                   now,
	}); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	e.notify(ctx, notifications.Notification{
		UserID:  userID.String(),
		Email:   email,
		Event:   notifications.EventPaymentSuccess,
		Type:    notifications.TypeSuccess,
		Title:   "Subscription active",
		Message: fmt.Sprintf("Your %s subscription is active until %s.", plan.Name, end.Format("2006-01-02")),
		Data:    map[string]any{"plan_slug": slug},
	})
	return nil
}

func (e *Engine) mirrorScheduledChange(ctx context.Context, userID uuid.UUID, event *gateway.WebhookEvent) error {
	now := e.now()

	if event.ScheduledChange == nil {
		// The gateway reports no pending change; clear any local mirror.
		if err := e.records.ClearPendingChange(ctx, userID, now); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		return nil
	}

	change := event.ScheduledChange
	if change.Action == "cancel" {
		return e.records.SetCancelAtPeriodEnd(ctx, userID, true, now)
	}

	var targetSlug *string
	if slug, ok := e.planSlugForPrice(change.TargetPrice); ok {
		targetSlug = &slug
	} else if change.TargetPrice != "" {
		e.log.WarnContext(ctx, "scheduled change to unknown price",
			slog.String("price_id", change.TargetPrice))
	}

	var effectiveAt *time.Time
	if !change.EffectiveAt.IsZero() {
		effectiveAt = &change.EffectiveAt
	}
	return e.records.SetPendingDowngrade(ctx, userID, targetSlug, effectiveAt, now)
}

func (e *Engine) notify(ctx context.Context, notif notifications.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, notif); err != nil {
		e.log.WarnContext(ctx, "failed to emit notification",
			slog.String("user_id", notif.UserID),
			slog.String("event", string(notif.Event)),
			slog.Any("error", err))
	}
}
