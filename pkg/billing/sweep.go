package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/notifications"
)

// RunSweep walks expired-but-still-subscribed records and downgrades
// the ones past their grace window, plus the ones whose scheduled
// cancellation has come due. One record failing never stops the run;
// the summary counts errors and the next run retries naturally. The
// conditional Downgrade makes concurrent or repeated runs idempotent.
func (e *Engine) RunSweep(ctx context.Context) (*SweepSummary, error) {
	now := e.now()
	summary := &SweepSummary{StartedAt: now}

	records, err := e.records.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		summary.Processed++

		if err := ctx.Err(); err != nil {
			summary.Duration = e.now().Sub(now)
			return summary, err
		}

		switch {
		case rec.DaysSinceExpiry(now) >= rec.GraceDays():
			// Past grace: the period ended and no renewal arrived.
			e.sweepRecord(ctx, rec, notifications.EventSubscriptionExpired, summary)

		case rec.CancelAtPeriodEnd:
			// Within grace but the user asked to cancel at period end,
			// so there is nothing to wait for.
			e.sweepRecord(ctx, rec, notifications.EventSubscriptionCancelled, summary)

		default:
			summary.InGrace++
			e.log.DebugContext(ctx, "record in grace window",
				slog.String("user_id", rec.UserID.String()),
				slog.Int("days_since_expiry", rec.DaysSinceExpiry(now)),
				slog.Int("grace_days", rec.GraceDays()))
		}
	}

	summary.Duration = e.now().Sub(now)
	e.log.InfoContext(ctx, "billing sweep finished",
		slog.Int("processed", summary.Processed),
		slog.Int("downgraded", summary.Downgraded),
		slog.Int("in_grace", summary.InGrace),
		slog.Int("errors", summary.Errors),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (e *Engine) sweepRecord(ctx context.Context, rec *SubscriptionRecord, event notifications.Event, summary *SweepSummary) {
	applied, err := e.records.Downgrade(ctx, rec.UserID, e.now())
	if err != nil {
		summary.Errors++
		e.log.ErrorContext(ctx, "failed to downgrade record",
			slog.String("user_id", rec.UserID.String()),
			slog.Any("error", err))
		return
	}
	if !applied {
		// Another pass or a cancellation webhook got here first.
		return
	}
	summary.Downgraded++

	if e.demoteRole != nil {
		if err := e.demoteRole(ctx, rec.UserID); err != nil {
			summary.Errors++
			e.log.ErrorContext(ctx, "failed to demote user role",
				slog.String("user_id", rec.UserID.String()),
				slog.Any("error", err))
		}
	}

	e.notifyDowngrade(ctx, rec.UserID.String(), rec.Email, event)
}

func (e *Engine) notifyDowngrade(ctx context.Context, userID, email string, event notifications.Event) {
	notif := notifications.Notification{
		UserID: userID,
		Email:  email,
		Event:  event,
		Type:   notifications.TypeWarning,
	}
	switch event {
	case notifications.EventSubscriptionExpired:
		notif.Title = "Subscription expired"
		notif.Message = "Your subscription has expired. Renew to regain access to paid features."
		if e.renewalURL != "" {
			notif.Action = &notifications.Action{Label: "Renew now", URL: e.renewalURL}
		}
	case notifications.EventSubscriptionCancelled:
		notif.Type = notifications.TypeInfo
		notif.Title = "Subscription cancelled"
		notif.Message = "Your subscription has ended as requested."
	}
	e.notify(ctx, notif)
}

// StartSweep runs the sweep immediately and then on every interval tick
// until the context is cancelled. Intended to be launched in its own
// goroutine from main.
func (e *Engine) StartSweep(ctx context.Context, interval time.Duration) {
	run := func() {
		if _, err := e.RunSweep(ctx); err != nil && ctx.Err() == nil {
			e.log.ErrorContext(ctx, "billing sweep failed", slog.Any("error", err))
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
