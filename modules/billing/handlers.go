package billing

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// maxWebhookBody bounds webhook payload reads. Provider payloads are a
// few KB; anything larger is hostile.
const maxWebhookBody = 1 << 20

type checkoutRequest struct {
	PlanSlug string `json:"plan_slug"`
	Email    string `json:"email"`
	Coupon   string `json:"coupon,omitempty"`
}

type checkoutResponse struct {
	RedirectURL string `json:"redirect_url"`
	SessionID   string `json:"session_id,omitempty"`
}

func (m *Module) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errUnauthenticated)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanSlug == "" {
		respondError(w, errBadRequest)
		return
	}

	link, err := m.engine.CreateCheckout(r.Context(), userID, req.Email, req.PlanSlug, req.Coupon)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse{RedirectURL: link.URL, SessionID: link.SessionID})
}

type instantChargeRequest struct {
	PlanSlug string `json:"plan_slug"`
	Email    string `json:"email"`
	Rail     string `json:"rail"`
	Coupon   string `json:"coupon,omitempty"`
}

type instantChargeResponse struct {
	IntentID    uuid.UUID `json:"intent_id"`
	QRText      string    `json:"qr_text"`
	QRImage     string    `json:"qr_image,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (m *Module) handleInstantCharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errUnauthenticated)
		return
	}

	var req instantChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanSlug == "" {
		respondError(w, errBadRequest)
		return
	}
	rail := gateway.Rail(req.Rail)
	if !rail.IsInstant() {
		respondError(w, errBadRequest)
		return
	}

	charge, err := m.engine.CreateInstantCharge(r.Context(), userID, req.Email, req.PlanSlug, rail, req.Coupon)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, instantChargeResponse{
		IntentID:    charge.IntentID,
		QRText:      charge.QRText,
		QRImage:     charge.QRImage,
		AmountCents: charge.AmountCents,
		ExpiresAt:   charge.ExpiresAt,
	})
}

type paymentStatusRequest struct {
	IntentID uuid.UUID `json:"intent_id"`
}

type paymentStatusResponse struct {
	IntentID uuid.UUID `json:"intent_id"`
	Status   string    `json:"status"`
}

// handlePaymentStatus is the client polling endpoint. Each call runs a
// single reconciliation check against the gateway, so the client's poll
// loop doubles as the pull path of the reconciler.
func (m *Module) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IntentID == uuid.Nil {
		respondError(w, errBadRequest)
		return
	}
	intentID := req.IntentID

	status, err := m.engine.CheckIntent(r.Context(), intentID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, paymentStatusResponse{IntentID: intentID, Status: string(status)})
}

type cancelDowngradeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

func (m *Module) handleCancelDowngrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errUnauthenticated)
		return
	}

	var req cancelDowngradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriptionID == "" {
		respondError(w, errBadRequest)
		return
	}

	if err := m.engine.CancelDowngrade(r.Context(), userID, req.SubscriptionID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m *Module) handlePaddleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, errBadRequest)
		return
	}

	event, err := m.recurring.ParseWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	if err != nil {
		m.log.WarnContext(r.Context(), "rejected paddle webhook", slog.Any("error", err))
		respondError(w, err)
		return
	}

	if !m.firstDelivery(r.Context(), "paddle", event.EventID) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := m.engine.HandleRecurringWebhook(r.Context(), event); err != nil {
		m.log.ErrorContext(r.Context(), "failed to process paddle webhook",
			slog.String("event", event.ProviderEvent), slog.Any("error", err))
		// Non-2xx makes the provider retry the delivery later. The
		// dedup key is released so that retry is processed, not
		// answered as a duplicate.
		m.forgetDelivery(r.Context(), "paddle", event.EventID)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instantWebhookPayload is the body both instant providers post. The
// status is still in the provider's vocabulary and is normalized by the
// rail's adapter.
type instantWebhookPayload struct {
	TxID   string `json:"txid"`
	Status string `json:"status"`
}

func (m *Module) handleInstantWebhook(rail gateway.Rail) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret, ok := m.secrets[rail]
		if !ok || secret == "" {
			respondError(w, gateway.ErrWebhookVerificationFailed)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondError(w, errBadRequest)
			return
		}

		headers, err := webhook.ExtractSignatureHeaders(r.Header)
		if err != nil {
			respondError(w, err)
			return
		}
		if err := webhook.VerifySignature(secret, payload, headers, webhook.DefaultMaxAge); err != nil {
			m.log.WarnContext(r.Context(), "rejected instant webhook",
				slog.String("rail", string(rail)), slog.Any("error", err))
			respondError(w, err)
			return
		}

		var body instantWebhookPayload
		if err := json.Unmarshal(payload, &body); err != nil || body.TxID == "" || body.Status == "" {
			respondError(w, errBadRequest)
			return
		}

		if !m.firstDelivery(r.Context(), string(rail), headers.ID) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}

		if err := m.engine.HandleInstantWebhook(r.Context(), rail, body.TxID, body.Status); err != nil {
			m.forgetDelivery(r.Context(), string(rail), headers.ID)
			if errors.Is(err, gateway.ErrUnknownProviderStatus) {
				respondError(w, errBadRequest)
				return
			}
			m.log.ErrorContext(r.Context(), "failed to process instant webhook",
				slog.String("rail", string(rail)), slog.Any("error", err))
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// firstDelivery consults the guard when one is wired and an external ID
// is present. Guard failures fail open: processing twice is safe, the
// engine's conditional transitions absorb duplicates.
func (m *Module) firstDelivery(ctx context.Context, provider, externalID string) bool {
	if m.guard == nil || externalID == "" {
		return true
	}
	first, err := m.guard.FirstDelivery(ctx, provider, externalID)
	if err != nil {
		m.log.WarnContext(ctx, "webhook dedup check failed",
			slog.String("provider", provider), slog.Any("error", err))
		return true
	}
	return first
}

// forgetDelivery releases a delivery key after a processing failure so
// the provider's retry makes it back to the engine. Best effort: if the
// release fails the retry is lost to dedup, which the log records.
func (m *Module) forgetDelivery(ctx context.Context, provider, externalID string) {
	if m.guard == nil || externalID == "" {
		return
	}
	if err := m.guard.Forget(ctx, provider, externalID); err != nil {
		m.log.WarnContext(ctx, "webhook dedup release failed",
			slog.String("provider", provider), slog.Any("error", err))
	}
}

func (m *Module) handleSweep(w http.ResponseWriter, r *http.Request) {
	if m.sweepToken == "" {
		respondError(w, errUnauthenticated)
		return
	}
	token := r.Header.Get("X-Sweep-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.sweepToken)) != 1 {
		respondError(w, errUnauthenticated)
		return
	}

	summary, err := m.engine.RunSweep(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
