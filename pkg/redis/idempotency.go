package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultDedupTTL bounds how long a delivery key is remembered. Providers
// retry webhooks for at most a few days, so a week is a safe upper bound.
const defaultDedupTTL = 7 * 24 * time.Hour

// IdempotencyGuard deduplicates at-least-once webhook deliveries keyed by
// (provider, external ID). The first observer of a key wins; replays are
// reported as already seen so handlers can no-op.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyGuard creates a guard backed by the given client.
// A non-positive ttl falls back to the default of seven days.
func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// FirstDelivery reports whether this is the first time the (provider,
// externalID) pair was observed. Implemented with SETNX so concurrent
// deliveries of the same event resolve to exactly one winner.
func (g *IdempotencyGuard) FirstDelivery(ctx context.Context, provider, externalID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, deliveryKey(provider, externalID), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhook dedupe check failed: %w", err)
	}
	return ok, nil
}

// Forget releases a claimed delivery key so the provider's retry of the
// same event is processed again. Called when handling failed after the
// key was won; without it the retry would be dropped as a duplicate.
func (g *IdempotencyGuard) Forget(ctx context.Context, provider, externalID string) error {
	if err := g.client.Del(ctx, deliveryKey(provider, externalID)).Err(); err != nil {
		return fmt.Errorf("webhook dedupe release failed: %w", err)
	}
	return nil
}

func deliveryKey(provider, externalID string) string {
	return fmt.Sprintf("billingkit:webhook:%s:%s", provider, externalID)
}
