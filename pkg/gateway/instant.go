package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// instantClient talks to one instant-payment gateway. The two gateways
// expose structurally identical charge APIs (create + poll) and differ
// only in credentials, base URL and status vocabulary, so both rails
// share this implementation.
type instantClient struct {
	rail       Rail
	baseURL    string
	apiKey     string
	authHeader string
	statusMap  map[string]Status
	httpClient *http.Client
}

// NewInstantA creates the adapter for the first instant-payment gateway.
func NewInstantA(cfg Config) (InstantProvider, error) {
	return newInstantClient(RailInstantA, cfg.InstantABaseURL, cfg.InstantAAPIKey, "X-API-Key", map[string]Status{
		"WAITING_PAYMENT": StatusPending,
		"PAID":            StatusSettled,
		"CONFIRMED":       StatusSettled,
		"EXPIRED":         StatusExpired,
		"CANCELED":        StatusCancelled,
		"REFUNDED":        StatusCancelled,
	})
}

// NewInstantB creates the adapter for the second instant-payment gateway.
func NewInstantB(cfg Config) (InstantProvider, error) {
	return newInstantClient(RailInstantB, cfg.InstantBBaseURL, cfg.InstantBAPIKey, "Authorization", map[string]Status{
		"pending":    StatusPending,
		"processing": StatusPending,
		"paid":       StatusSettled,
		"expired":    StatusExpired,
		"canceled":   StatusCancelled,
		"refused":    StatusCancelled,
	})
}

func newInstantClient(rail Rail, baseURL, apiKey, authHeader string, statusMap map[string]Status) (*instantClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	return &instantClient{
		rail:       rail,
		baseURL:    baseURL,
		apiKey:     apiKey,
		authHeader: authHeader,
		statusMap:  statusMap,
		httpClient: &http.Client{Timeout: callTimeout},
	}, nil
}

func (c *instantClient) Rail() Rail {
	return c.rail
}

type instantChargeRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

type instantChargeResponse struct {
	TxID      string    `json:"txid"`
	QRCode    string    `json:"qr_code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateCharge mints a new charge on the gateway. No retries here:
// retry policy belongs to the caller, which knows whether the intent
// was already persisted.
func (c *instantClient) CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error) {
	body, err := json.Marshal(instantChargeRequest{
		Reference:   req.Reference,
		AmountCents: req.AmountCents,
		Description: req.Description,
		ExpiresIn:   int64(req.ExpiresIn.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("encode charge request: %w", err)
	}

	var resp instantChargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/charges", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}

	return &Charge{
		TxID:      resp.TxID,
		QRText:    resp.QRCode,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// CheckStatus polls the gateway for the charge state and maps the
// provider vocabulary onto the canonical statuses.
func (c *instantClient) CheckStatus(ctx context.Context, txID string) (Status, error) {
	var resp instantChargeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+txID, nil, &resp); err != nil {
		return "", err
	}
	return c.NormalizeStatus(resp.Status)
}

// CancelCharge voids an unpaid charge. A charge the provider no longer
// knows about counts as cancelled.
func (c *instantClient) CancelCharge(ctx context.Context, txID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/charges/"+txID, nil, nil)
	if errors.Is(err, ErrChargeNotFound) {
		return nil
	}
	return err
}

// NormalizeStatus maps this gateway's state vocabulary onto the
// canonical statuses.
func (c *instantClient) NormalizeStatus(providerStatus string) (Status, error) {
	status, ok := c.statusMap[providerStatus]
	if !ok {
		return "", fmt.Errorf("%w: %q from %s", ErrUnknownProviderStatus, providerStatus, c.rail)
	}
	return status, nil
}

func (c *instantClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authHeader == "Authorization" {
		req.Header.Set(c.authHeader, "Bearer "+c.apiKey)
	} else {
		req.Header.Set(c.authHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errors.Join(ErrGatewayTimeout, err)
		}
		return fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrGatewayRejected, c.rail, resp.Status, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
