package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PollIntent blocks until the intent reaches a terminal status or the
// context is cancelled, checking the gateway on a fixed interval. It
// complements the webhook path: whichever notices settlement first
// wins, the other becomes a no-op. Transient gateway errors are logged
// and the loop keeps going; the intent's own expiry bounds the total
// polling time.
func (e *Engine) PollIntent(ctx context.Context, intentID uuid.UUID) (IntentStatus, error) {
	status, err := e.CheckIntent(ctx, intentID)
	if err == nil && status.IsTerminal() {
		return status, nil
	}
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return "", err
		}
		e.log.WarnContext(ctx, "intent check failed, will retry",
			slog.String("intent_id", intentID.String()),
			slog.Any("error", err))
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return IntentPending, ctx.Err()
		case <-ticker.C:
			status, err := e.CheckIntent(ctx, intentID)
			if err != nil {
				if errors.Is(err, ErrIntentNotFound) {
					return "", err
				}
				e.log.WarnContext(ctx, "intent check failed, will retry",
					slog.String("intent_id", intentID.String()),
					slog.Any("error", err))
				continue
			}
			if status.IsTerminal() {
				return status, nil
			}
		}
	}
}
