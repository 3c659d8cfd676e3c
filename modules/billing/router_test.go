package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingmodule "github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

const (
	instantASecret = "instant-a-secret"
	sweepToken     = "sweep-token"
)

type stubInstantProvider struct {
	rail gateway.Rail

	mu     sync.Mutex
	status gateway.Status
}

func (s *stubInstantProvider) Rail() gateway.Rail { return s.rail }

func (s *stubInstantProvider) CreateCharge(ctx context.Context, req gateway.CreateChargeRequest) (*gateway.Charge, error) {
	return &gateway.Charge{
		TxID:      "tx-" + req.Reference,
		QRText:    "pix-payload-" + req.Reference,
		ExpiresAt: time.Now().Add(req.ExpiresIn),
	}, nil
}

func (s *stubInstantProvider) CheckStatus(ctx context.Context, txID string) (gateway.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == "" {
		return gateway.StatusPending, nil
	}
	return s.status, nil
}

func (s *stubInstantProvider) CancelCharge(ctx context.Context, txID string) error {
	return nil
}

func (s *stubInstantProvider) NormalizeStatus(providerStatus string) (gateway.Status, error) {
	switch st := gateway.Status(providerStatus); st {
	case gateway.StatusPending, gateway.StatusSettled, gateway.StatusExpired, gateway.StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", gateway.ErrUnknownProviderStatus, providerStatus)
	}
}

type stubRecurringProvider struct {
	event    *gateway.WebhookEvent
	released []string
}

func (s *stubRecurringProvider) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutLink, error) {
	return &gateway.CheckoutLink{URL: "https://pay.example.com/txn_1", SessionID: "txn_1"}, nil
}

func (s *stubRecurringProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if signature != "valid-signature" {
		return nil, gateway.ErrWebhookVerificationFailed
	}
	return s.event, nil
}

func (s *stubRecurringProvider) ReleaseSchedule(ctx context.Context, subscriptionID string) error {
	s.released = append(s.released, subscriptionID)
	return nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) FirstDelivery(ctx context.Context, provider, externalID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	key := provider + ":" + externalID
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *memoryGuard) Forget(ctx context.Context, provider, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, provider+":"+externalID)
	return nil
}

type moduleEnv struct {
	handler   http.Handler
	engine    *billing.Engine
	records   *billing.MemorySubscriptionStore
	recurring *stubRecurringProvider
	instantA  *stubInstantProvider
}

func newModuleEnv(t *testing.T) *moduleEnv {
	t.Helper()

	env := &moduleEnv{
		records:   billing.NewMemorySubscriptionStore(),
		recurring: &stubRecurringProvider{},
		instantA:  &stubInstantProvider{rail: gateway.RailInstantA},
	}

	engine, err := billing.New(context.Background(),
		billing.NewInMemSource(billing.Plan{
			Slug:          "premium-monthly",
			Name:          "Premium Monthly",
			PriceCents:    3000,
			Currency:      "USD",
			IntervalDays:  30,
			Active:        true,
			PaddlePriceID: "pri_premium_monthly",
		}),
		env.recurring,
		env.records,
		billing.NewMemoryIntentStore(),
		billing.WithInstantProvider(env.instantA),
	)
	require.NoError(t, err)
	env.engine = engine

	env.handler = billingmodule.New(engine, env.recurring,
		billingmodule.WithInstantWebhookSecret(gateway.RailInstantA, instantASecret),
		billingmodule.WithDeliveryGuard(&memoryGuard{}),
		billingmodule.WithSweepToken(sweepToken),
	).Router()
	return env
}

func doJSON(t *testing.T, handler http.Handler, method, path string, userID *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != nil {
		req = req.WithContext(billingmodule.SetUserID(req.Context(), *userID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("returns checkout URL", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		rec := doJSON(t, env.handler, http.MethodPost, "/checkout", &userID, map[string]string{
			"plan_slug": "premium-monthly",
			"email":     "user@example.com",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "https://pay.example.com/txn_1")
	})

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		rec := doJSON(t, env.handler, http.MethodPost, "/checkout", nil, map[string]string{
			"plan_slug": "premium-monthly",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown plan maps to 404", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		rec := doJSON(t, env.handler, http.MethodPost, "/checkout", &userID, map[string]string{
			"plan_slug": "no-such-plan",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInstantChargeEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("mints QR charge", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		rec := doJSON(t, env.handler, http.MethodPost, "/instant-charge", &userID, map[string]string{
			"plan_slug": "premium-monthly",
			"email":     "user@example.com",
			"rail":      "instant-a",
		})

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Data struct {
				IntentID    uuid.UUID `json:"intent_id"`
				QRText      string    `json:"qr_text"`
				AmountCents int64     `json:"amount_cents"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEqual(t, uuid.Nil, resp.Data.IntentID)
		assert.NotEmpty(t, resp.Data.QRText)
		assert.Equal(t, int64(3000), resp.Data.AmountCents)
	})

	t.Run("rejects non-instant rail", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		rec := doJSON(t, env.handler, http.MethodPost, "/instant-charge", &userID, map[string]string{
			"plan_slug": "premium-monthly",
			"rail":      "recurring",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPaymentStatusEndpoint(t *testing.T) {
	t.Parallel()

	env := newModuleEnv(t)
	userID := uuid.New()
	rec := doJSON(t, env.handler, http.MethodPost, "/instant-charge", &userID, map[string]string{
		"plan_slug": "premium-monthly",
		"rail":      "instant-a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data struct {
			IntentID uuid.UUID `json:"intent_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	env.instantA.status = gateway.StatusSettled

	statusRec := doJSON(t, env.handler, http.MethodPost, "/payment-status", nil, map[string]string{
		"intent_id": created.Data.IntentID.String(),
	})
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"status":"settled"`)

	record, err := env.engine.GetRecord(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, record.Subscribed)
}

func signedWebhookRequest(t *testing.T, path, secret string, body any) *http.Request {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	headers := webhook.SignPayload(secret, payload, time.Now())
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", headers.Signature)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(headers.Timestamp, 10))
	req.Header.Set("X-Webhook-ID", uuid.NewString())
	return req
}

func TestInstantWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("settles intent on signed delivery", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		rec := doJSON(t, env.handler, http.MethodPost, "/instant-charge", &userID, map[string]string{
			"plan_slug": "premium-monthly",
			"rail":      "instant-a",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created struct {
			Data struct {
				IntentID uuid.UUID `json:"intent_id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		txID := "tx-" + created.Data.IntentID.String()

		req := signedWebhookRequest(t, "/webhooks/instant-a", instantASecret, map[string]string{
			"txid":   txID,
			"status": "settled",
		})
		whRec := httptest.NewRecorder()
		env.handler.ServeHTTP(whRec, req)
		require.Equal(t, http.StatusOK, whRec.Code)

		record, err := env.engine.GetRecord(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, record.Subscribed)
	})

	t.Run("rejects wrong signature", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := signedWebhookRequest(t, "/webhooks/instant-a", "wrong-secret", map[string]string{
			"txid":   "tx-1",
			"status": "settled",
		})
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing signature headers", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/instant-a", bytes.NewReader([]byte(`{"txid":"tx-1","status":"settled"}`)))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects rail without configured secret", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := signedWebhookRequest(t, "/webhooks/instant-b", "anything", map[string]string{
			"txid":   "tx-1",
			"status": "settled",
		})
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("duplicate delivery ID is acknowledged without reprocessing", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		payload, err := json.Marshal(map[string]string{"txid": "tx-unknown", "status": "settled"})
		require.NoError(t, err)
		headers := webhook.SignPayload(instantASecret, payload, time.Now())
		deliveryID := uuid.NewString()

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/instant-a", bytes.NewReader(payload))
			req.Header.Set("X-Webhook-Signature", headers.Signature)
			req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(headers.Timestamp, 10))
			req.Header.Set("X-Webhook-ID", deliveryID)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			return rec
		}

		first := send()
		require.Equal(t, http.StatusOK, first.Code)

		second := send()
		require.Equal(t, http.StatusOK, second.Code)
		assert.Contains(t, second.Body.String(), "duplicate")
	})

	t.Run("failed delivery is not deduped on retry", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		payload, err := json.Marshal(map[string]string{"txid": "tx-1", "status": "weird"})
		require.NoError(t, err)
		headers := webhook.SignPayload(instantASecret, payload, time.Now())
		deliveryID := uuid.NewString()

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/instant-a", bytes.NewReader(payload))
			req.Header.Set("X-Webhook-Signature", headers.Signature)
			req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(headers.Timestamp, 10))
			req.Header.Set("X-Webhook-ID", deliveryID)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			return rec
		}

		first := send()
		require.Equal(t, http.StatusBadRequest, first.Code)

		// The provider retries the failed delivery with the same ID;
		// it must reach the engine again, not be answered as seen.
		second := send()
		require.Equal(t, http.StatusBadRequest, second.Code)
		assert.NotContains(t, second.Body.String(), "duplicate")
	})
}

func TestPaddleWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("applies verified event", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		periodEnd := time.Now().AddDate(0, 1, 0).UTC()
		env.recurring.event = &gateway.WebhookEvent{
			Type:           gateway.EventSubscriptionActivated,
			EventID:        "evt_1",
			ProviderEvent:  "subscription.activated",
			SubscriptionID: "sub_abc",
			UserID:         userID.String(),
			Status:         "active",
			PriceID:        "pri_premium_monthly",
			PeriodEnd:      &periodEnd,
		}

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Paddle-Signature", "valid-signature")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		record, err := env.engine.GetRecord(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, record.Subscribed)
	})

	t.Run("rejects invalid signature", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Paddle-Signature", "forged")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("failed delivery is retried, not deduped", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		periodEnd := time.Now().AddDate(0, 1, 0).UTC()
		env.recurring.event = &gateway.WebhookEvent{
			Type:           gateway.EventSubscriptionActivated,
			EventID:        "evt_retry",
			ProviderEvent:  "subscription.activated",
			SubscriptionID: "sub_abc",
			UserID:         userID.String(),
			Status:         "active",
			PriceID:        "pri_unknown",
			PeriodEnd:      &periodEnd,
		}

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader([]byte(`{}`)))
			req.Header.Set("Paddle-Signature", "valid-signature")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			return rec
		}

		// Processing fails on the unknown price, so the response is
		// non-2xx and the provider will redeliver the same event ID.
		first := send()
		require.Equal(t, http.StatusNotFound, first.Code)
		_, err := env.engine.GetRecord(context.Background(), userID)
		require.ErrorIs(t, err, billing.ErrRecordNotFound)

		// Once the cause clears, the redelivery must be processed
		// instead of dropped as a duplicate.
		env.recurring.event.PriceID = "pri_premium_monthly"
		second := send()
		require.Equal(t, http.StatusOK, second.Code)
		assert.NotContains(t, second.Body.String(), "duplicate")

		record, err := env.engine.GetRecord(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, record.Subscribed)
	})
}

func TestSweepEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("runs sweep with valid token", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
		req.Header.Set("X-Sweep-Token", sweepToken)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed"`)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
		req.Header.Set("X-Sweep-Token", "guess")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCancelDowngradeEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("clears pending change for owner", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		plan := "premium-monthly"
		end := time.Now().AddDate(0, 1, 0)
		subID := "sub_abc"
		env.records.Put(&billing.SubscriptionRecord{
			UserID:                userID,
			Subscribed:            true,
			CurrentPlanSlug:       &plan,
			SubscriptionEnd:       &end,
			GatewaySubscriptionID: &subID,
		})

		rec := doJSON(t, env.handler, http.MethodPost, "/cancel-downgrade", &userID, map[string]string{
			"subscription_id": "sub_abc",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"sub_abc"}, env.recurring.released)
	})

	t.Run("rejects foreign subscription ID", func(t *testing.T) {
		t.Parallel()

		env := newModuleEnv(t)
		userID := uuid.New()
		plan := "premium-monthly"
		end := time.Now().AddDate(0, 1, 0)
		subID := "sub_mine"
		env.records.Put(&billing.SubscriptionRecord{
			UserID:                userID,
			Subscribed:            true,
			CurrentPlanSlug:       &plan,
			SubscriptionEnd:       &end,
			GatewaySubscriptionID: &subID,
		})

		rec := doJSON(t, env.handler, http.MethodPost, "/cancel-downgrade", &userID, map[string]string{
			"subscription_id": "sub_theirs",
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}
