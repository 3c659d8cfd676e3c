package gateway

import "errors"

var (
	// ErrGatewayTimeout means the external call was aborted by the fixed
	// per-call timeout. Retryable by the caller.
	ErrGatewayTimeout = errors.New("gateway call timed out")

	// ErrGatewayRejected means the gateway explicitly refused the request.
	// Terminal; surfaced to the user as a payment failure.
	ErrGatewayRejected = errors.New("gateway rejected the request")

	ErrUnknownProviderStatus = errors.New("unknown provider status")
	ErrChargeNotFound        = errors.New("charge not found on gateway")

	ErrMissingAPIKey             = errors.New("gateway API key is required")
	ErrMissingBaseURL            = errors.New("gateway base URL is required")
	ErrMissingWebhookSecret      = errors.New("gateway webhook secret is required")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from gateway")
)
