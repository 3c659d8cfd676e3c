package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SignatureHeaders carries the signature material extracted from an
// incoming webhook request. Header names follow the scheme used by the
// instant-payment providers (and by Stripe, GitHub and others).
type SignatureHeaders struct {
	Signature string
	Timestamp int64
	ID        string
}

// DefaultMaxAge is the replay window applied when verifying signatures.
// Providers retry within minutes; five minutes tolerates slow retries
// without leaving a wide replay window.
const DefaultMaxAge = 5 * time.Minute

// ExtractSignatureHeaders reads signature data from the request headers.
// The webhook ID header is optional; it feeds the idempotency guard when
// the provider supplies it.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature: h.Get("X-Webhook-Signature"),
		ID:        h.Get("X-Webhook-ID"),
	}

	ts := h.Get("X-Webhook-Timestamp")
	if sig.Signature == "" || ts == "" {
		return SignatureHeaders{}, ErrMissingSignature
	}

	var err error
	sig.Timestamp, err = strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp format", ErrInvalidSignature)
	}

	return sig, nil
}

// VerifySignature validates webhook authenticity and rejects replays.
// The signature is HMAC-SHA256(secret, timestamp + "." + payload),
// compared in constant time.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidSignature)
	}
	if headers.Signature == "" {
		return ErrMissingSignature
	}

	if maxAge > 0 {
		age := time.Since(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature timestamp too old: %v", ErrInvalidSignature, age)
		}
		// Tolerate modest clock skew but reject far-future timestamps.
		if age < -1*time.Minute {
			return fmt.Errorf("%w: signature timestamp is in the future", ErrInvalidSignature)
		}
	}

	expected := computeSignature(secret, payload, headers.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	return nil
}

// SignPayload produces signature headers for a payload. Used by tests and
// by local tooling that replays provider webhooks against the engine.
func SignPayload(secret string, payload []byte, now time.Time) SignatureHeaders {
	ts := now.Unix()
	return SignatureHeaders{
		Signature: computeSignature(secret, payload, ts),
		Timestamp: ts,
	}
}

func computeSignature(secret string, payload []byte, timestamp int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	return hex.EncodeToString(h.Sum(nil))
}
