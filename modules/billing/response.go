package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	billingengine "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// envelope is the standard JSON response body.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// respondError maps domain errors onto HTTP semantics. The timeout and
// rejection cases diverge on purpose: a timed-out gateway call may have
// succeeded remotely, so the client is told to retry the status check
// rather than the payment.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "something went wrong"

	switch {
	case errors.Is(err, gateway.ErrGatewayTimeout):
		status = http.StatusGatewayTimeout
		code = "gateway_timeout"
		message = "the payment provider did not respond in time, check the payment status before retrying"
	case errors.Is(err, gateway.ErrGatewayRejected):
		status = http.StatusPaymentRequired
		code = "payment_rejected"
		message = "the payment provider rejected the request"
	case errors.Is(err, gateway.ErrWebhookVerificationFailed),
		errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature):
		status = http.StatusUnauthorized
		code = "invalid_signature"
		message = "webhook signature verification failed"
	case errors.Is(err, billingengine.ErrPlanNotFound),
		errors.Is(err, billingengine.ErrRecordNotFound),
		errors.Is(err, billingengine.ErrIntentNotFound):
		status = http.StatusNotFound
		code = "not_found"
		message = err.Error()
	case errors.Is(err, billingengine.ErrUnauthorized):
		status = http.StatusForbidden
		code = "forbidden"
		message = err.Error()
	case errors.Is(err, billingengine.ErrPlanInactive),
		errors.Is(err, billingengine.ErrInvalidCoupon),
		errors.Is(err, billingengine.ErrNotRecurring),
		errors.Is(err, billingengine.ErrNoProviderForRail):
		status = http.StatusUnprocessableEntity
		code = "unprocessable"
		message = err.Error()
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
		code = "bad_request"
		message = err.Error()
	case errors.Is(err, errUnauthenticated):
		status = http.StatusUnauthorized
		code = "unauthorized"
		message = "authentication required"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorDetail{Code: code, Message: message}})
}

var (
	errBadRequest      = errors.New("malformed request body")
	errUnauthenticated = errors.New("authentication required")
)
