package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/notifications"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testPlans() []billing.Plan {
	return []billing.Plan{
		{
			Slug:          "premium-monthly",
			Name:          "Premium Monthly",
			PriceCents:    3000,
			Currency:      "USD",
			IntervalDays:  30,
			Active:        true,
			PaddlePriceID: "pri_premium_monthly",
		},
		{
			Slug:         "starter-monthly",
			Name:         "Starter Monthly",
			PriceCents:   1000,
			Currency:     "USD",
			IntervalDays: 30,
			Active:       true,
		},
		{
			Slug:          "basic-monthly",
			Name:          "Basic Monthly",
			PriceCents:    1500,
			Currency:      "USD",
			IntervalDays:  30,
			Active:        true,
			PaddlePriceID: "pri_basic_monthly",
		},
		{
			Slug:         "legacy-yearly",
			Name:         "Legacy Yearly",
			PriceCents:   20000,
			Currency:     "USD",
			IntervalDays: 365,
			Active:       false,
		},
	}
}

// fakeInstantProvider scripts CheckStatus responses in order and
// records every minted charge.
type fakeInstantProvider struct {
	rail      gateway.Rail
	chargeErr error

	mu        sync.Mutex
	statuses  []gateway.Status
	checks    int
	minted    []gateway.CreateChargeRequest
	cancelled []string
}

func (f *fakeInstantProvider) Rail() gateway.Rail { return f.rail }

func (f *fakeInstantProvider) CreateCharge(ctx context.Context, req gateway.CreateChargeRequest) (*gateway.Charge, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted = append(f.minted, req)
	return &gateway.Charge{
		TxID:      "tx-" + req.Reference,
		QRText:    "00020126pix-payload-" + req.Reference,
		ExpiresAt: testNow.Add(req.ExpiresIn),
	}, nil
}

func (f *fakeInstantProvider) CheckStatus(ctx context.Context, txID string) (gateway.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return gateway.StatusPending, nil
	}
	i := f.checks
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.checks++
	return f.statuses[i], nil
}

func (f *fakeInstantProvider) CancelCharge(ctx context.Context, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, txID)
	return nil
}

func (f *fakeInstantProvider) NormalizeStatus(providerStatus string) (gateway.Status, error) {
	switch s := gateway.Status(providerStatus); s {
	case gateway.StatusPending, gateway.StatusSettled, gateway.StatusExpired, gateway.StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", gateway.ErrUnknownProviderStatus, providerStatus)
	}
}

// fakeRecurringProvider records checkout and schedule-release calls.
type fakeRecurringProvider struct {
	mu           sync.Mutex
	checkouts    []gateway.CheckoutRequest
	released     []string
	checkoutErr  error
	releaseErr   error
	checkoutLink *gateway.CheckoutLink
}

func (f *fakeRecurringProvider) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutLink, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, req)
	if f.checkoutLink != nil {
		return f.checkoutLink, nil
	}
	return &gateway.CheckoutLink{URL: "https://pay.example.com/txn_123", SessionID: "txn_123"}, nil
}

func (f *fakeRecurringProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*gateway.WebhookEvent, error) {
	return nil, gateway.ErrWebhookVerificationFailed
}

func (f *fakeRecurringProvider) ReleaseSchedule(ctx context.Context, subscriptionID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, subscriptionID)
	return nil
}

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, notif notifications.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notif)
	return nil
}

func (n *recordingNotifier) byEvent(event notifications.Event) []notifications.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifications.Notification
	for _, notif := range n.sent {
		if notif.Event == event {
			out = append(out, notif)
		}
	}
	return out
}

type testEnv struct {
	engine    *billing.Engine
	records   *billing.MemorySubscriptionStore
	intents   *billing.MemoryIntentStore
	instantA  *fakeInstantProvider
	instantB  *fakeInstantProvider
	recurring *fakeRecurringProvider
	notifier  *recordingNotifier
	now       *time.Time
}

func newTestEnv(t *testing.T, opts ...billing.Option) *testEnv {
	t.Helper()

	env := &testEnv{
		records:   billing.NewMemorySubscriptionStore(),
		intents:   billing.NewMemoryIntentStore(),
		instantA:  &fakeInstantProvider{rail: gateway.RailInstantA},
		instantB:  &fakeInstantProvider{rail: gateway.RailInstantB},
		recurring: &fakeRecurringProvider{},
		notifier:  &recordingNotifier{},
	}
	now := testNow
	env.now = &now

	base := []billing.Option{
		billing.WithInstantProvider(env.instantA),
		billing.WithInstantProvider(env.instantB),
		billing.WithNotifier(env.notifier),
		billing.WithClock(func() time.Time { return *env.now }),
		billing.WithRenewalURL("https://app.example.com/billing/renew"),
	}

	engine, err := billing.New(context.Background(),
		billing.NewInMemSource(testPlans()...),
		env.recurring,
		env.records,
		env.intents,
		append(base, opts...)...,
	)
	require.NoError(t, err)
	env.engine = engine
	return env
}

func (env *testEnv) seedSubscribed(t *testing.T, userID uuid.UUID, planSlug string, end time.Time, gatewaySubID string) {
	t.Helper()
	rec := &billing.SubscriptionRecord{
		UserID:          userID,
		Email:           "user@example.com",
		Subscribed:      true,
		CurrentPlanSlug: &planSlug,
		SubscriptionEnd: &end,
		UpdatedAt:       testNow,
	}
	if gatewaySubID != "" {
		rec.GatewaySubscriptionID = &gatewaySubID
	}
	env.records.Put(rec)
}
