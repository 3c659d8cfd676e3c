package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/notifications"
)

func TestRunSweepGraceWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		gatewaySubID string // non-empty means recurring rail, one grace day
		expiredAgo   time.Duration
		wantSwept    bool
	}{
		{
			name:         "recurring expired 23h ago stays in grace",
			gatewaySubID: "sub_abc",
			expiredAgo:   23 * time.Hour,
			wantSwept:    false,
		},
		{
			name:         "recurring expired 25h ago is downgraded",
			gatewaySubID: "sub_abc",
			expiredAgo:   25 * time.Hour,
			wantSwept:    true,
		},
		{
			name:       "instant expired 2 days ago stays in grace",
			expiredAgo: 50 * time.Hour,
			wantSwept:  false,
		},
		{
			name:       "instant expired 4 days ago is downgraded",
			expiredAgo: 97 * time.Hour,
			wantSwept:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			userID := uuid.New()
			env.seedSubscribed(t, userID, "premium-monthly", testNow.Add(-tt.expiredAgo), tt.gatewaySubID)

			summary, err := env.engine.RunSweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Processed)

			rec, err := env.engine.GetRecord(context.Background(), userID)
			require.NoError(t, err)

			if tt.wantSwept {
				assert.Equal(t, 1, summary.Downgraded)
				assert.False(t, rec.Subscribed)
				require.NotNil(t, rec.PreviousPlanSlug)
				assert.Equal(t, "premium-monthly", *rec.PreviousPlanSlug)
				assert.Len(t, env.notifier.byEvent(notifications.EventSubscriptionExpired), 1)
			} else {
				assert.Equal(t, 1, summary.InGrace)
				assert.Zero(t, summary.Downgraded)
				assert.True(t, rec.Subscribed)
				assert.Empty(t, env.notifier.sent)
			}
		})
	}
}

func TestRunSweep(t *testing.T) {
	t.Parallel()

	t.Run("instant settle moves a recurring record to the instant window", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()
		env.seedSubscribed(t, userID, "premium-monthly", testNow.AddDate(0, 0, -1), "sub_abc")

		intent := mintIntent(t, env, userID, gateway.RailInstantA)
		env.instantA.statuses = []gateway.Status{gateway.StatusSettled}
		_, err := env.engine.CheckIntent(context.Background(), intent.ID)
		require.NoError(t, err)

		// Two days past the new period end the record is inside the
		// 3-day instant grace, outside the 1-day recurring one.
		*env.now = testNow.AddDate(0, 0, 30).Add(50 * time.Hour)
		summary, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.InGrace)
		assert.Zero(t, summary.Downgraded)

		rec, err := env.engine.GetRecord(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, rec.Subscribed)
	})

	t.Run("second run downgrades nothing", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.seedSubscribed(t, uuid.New(), "premium-monthly", testNow.Add(-48*time.Hour), "sub_abc")

		first, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, first.Downgraded)

		second, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, second.Processed)
		assert.Zero(t, second.Downgraded)
		assert.Len(t, env.notifier.byEvent(notifications.EventSubscriptionExpired), 1)
	})

	t.Run("cancel at period end ends within grace", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()
		env.seedSubscribed(t, userID, "premium-monthly", testNow.Add(-2*time.Hour), "sub_abc")
		require.NoError(t, env.records.SetCancelAtPeriodEnd(context.Background(), userID, true, testNow))

		summary, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Downgraded)
		assert.Zero(t, summary.InGrace)

		rec, err := env.engine.GetRecord(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, rec.Subscribed)
		require.NotNil(t, rec.PreviousPlanSlug)
		assert.Equal(t, "premium-monthly", *rec.PreviousPlanSlug)
		assert.Len(t, env.notifier.byEvent(notifications.EventSubscriptionCancelled), 1)
		assert.Empty(t, env.notifier.byEvent(notifications.EventSubscriptionExpired))
	})

	t.Run("not yet expired records are untouched", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.seedSubscribed(t, uuid.New(), "premium-monthly", testNow.Add(10*24*time.Hour), "")

		summary, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, summary.Processed)
	})

	t.Run("demotes role on downgrade", func(t *testing.T) {
		t.Parallel()

		var demoted []uuid.UUID
		env := newTestEnv(t, billing.WithRoleDemoter(
			func(ctx context.Context, userID uuid.UUID) error {
				demoted = append(demoted, userID)
				return nil
			},
		))
		userID := uuid.New()
		env.seedSubscribed(t, userID, "premium-monthly", testNow.Add(-48*time.Hour), "sub_abc")

		_, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{userID}, demoted)
	})

	t.Run("one failing record does not stop the run", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("demotion backend down")
		env := newTestEnv(t, billing.WithRoleDemoter(
			func(ctx context.Context, userID uuid.UUID) error {
				return boom
			},
		))
		env.seedSubscribed(t, uuid.New(), "premium-monthly", testNow.Add(-48*time.Hour), "sub_a")
		env.seedSubscribed(t, uuid.New(), "premium-monthly", testNow.Add(-48*time.Hour), "sub_b")

		summary, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Processed)
		assert.Equal(t, 2, summary.Downgraded)
		assert.Equal(t, 2, summary.Errors)
	})

	t.Run("expiry notification carries renewal action", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.seedSubscribed(t, uuid.New(), "premium-monthly", testNow.Add(-48*time.Hour), "sub_abc")

		_, err := env.engine.RunSweep(context.Background())
		require.NoError(t, err)

		sent := env.notifier.byEvent(notifications.EventSubscriptionExpired)
		require.Len(t, sent, 1)
		require.NotNil(t, sent[0].Action)
		assert.Equal(t, "https://app.example.com/billing/renew", sent[0].Action.URL)
	})
}

func TestDaysSinceExpiry(t *testing.T) {
	t.Parallel()

	end := testNow.Add(-30 * time.Hour)
	rec := &billing.SubscriptionRecord{Subscribed: true, SubscriptionEnd: &end}

	// Flooring: 30 elapsed hours is one whole day, not two.
	assert.Equal(t, 1, rec.DaysSinceExpiry(testNow))
	assert.Equal(t, 0, rec.DaysSinceExpiry(testNow.Add(-7*time.Hour)))
	assert.Equal(t, 0, rec.DaysSinceExpiry(testNow.Add(-40*time.Hour)))
}
