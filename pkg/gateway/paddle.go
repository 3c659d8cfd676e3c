package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const (
	paddleAPIBaseURL        = "https://api.paddle.com"
	paddleSandboxAPIBaseURL = "https://sandbox-api.paddle.com"
)

// PaddleProvider implements RecurringProvider on top of Paddle Billing.
type PaddleProvider struct {
	client     *paddle.SDK
	verifier   *paddle.WebhookVerifier
	apiKey     string
	apiBaseURL string
	httpClient *http.Client
}

// NewPaddleProvider creates the recurring-rail adapter.
func NewPaddleProvider(cfg Config) (*PaddleProvider, error) {
	if cfg.PaddleAPIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.PaddleWebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error
	baseURL := paddleAPIBaseURL

	switch strings.ToLower(cfg.PaddleEnvironment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.PaddleAPIKey)
		baseURL = paddleSandboxAPIBaseURL
	case "production", "":
		client, err = paddle.New(cfg.PaddleAPIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.PaddleEnvironment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:     client,
		verifier:   paddle.NewWebhookVerifier(cfg.PaddleWebhookSecret),
		apiKey:     cfg.PaddleAPIKey,
		apiBaseURL: baseURL,
		httpClient: &http.Client{Timeout: callTimeout},
	}, nil
}

// CreateCheckout creates a hosted checkout transaction. The internal
// user ID rides in custom data so webhooks can be tied back to a record.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}
	if req.UserID == "" {
		return nil, errors.New("user ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id": req.UserID,
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.Join(ErrGatewayTimeout, err)
		}
		return nil, errors.Join(ErrGatewayRejected, err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		// Paddle checkout links expire after 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the
// event payload.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	// The SDK verifier consumes an *http.Request, so rebuild one around
	// the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var paddleEvent struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &WebhookEvent{
		Type:          mapPaddleEventType(paddleEvent.EventType),
		EventID:       paddleEvent.EventID,
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}

	if id, ok := paddleEvent.Data["id"].(string); ok {
		event.SubscriptionID = id
	}
	if status, ok := paddleEvent.Data["status"].(string); ok {
		event.Status = status
	}
	if customData, ok := paddleEvent.Data["custom_data"].(map[string]any); ok {
		if userID, ok := customData["user_id"].(string); ok {
			event.UserID = userID
		}
	}
	if items, ok := paddleEvent.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					event.PriceID = priceID
				}
			}
		}
	}
	if period, ok := paddleEvent.Data["current_billing_period"].(map[string]any); ok {
		if endsAt, ok := period["ends_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, endsAt); err == nil {
				event.PeriodEnd = &t
			}
		}
	}
	if change, ok := paddleEvent.Data["scheduled_change"].(map[string]any); ok {
		sc := &ScheduledChange{}
		if action, ok := change["action"].(string); ok {
			sc.Action = action
		}
		if effectiveAt, ok := change["effective_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, effectiveAt); err == nil {
				sc.EffectiveAt = t
			}
		}
		// Cancel and pause schedules carry no price; plan-change
		// schedules name the price the subscription moves to.
		if targetPrice, ok := change["target_price_id"].(string); ok {
			sc.TargetPrice = targetPrice
		}
		event.ScheduledChange = sc
	}

	return event, nil
}

// ReleaseSchedule clears any scheduled change on the subscription, which
// also clears a pending cancellation (Paddle models cancel-at-period-end
// as a scheduled change). Idempotent: no schedule attached is a no-op.
//
// The SDK exposes no typed helper for nulling scheduled_change, so this
// goes through the REST API directly.
func (p *PaddleProvider) ReleaseSchedule(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return errors.New("subscription ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	current, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if current.ScheduledChange == nil {
		return nil
	}

	body := []byte(`{"scheduled_change": null}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		p.apiBaseURL+"/subscriptions/"+subscriptionID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errors.Join(ErrGatewayTimeout, err)
		}
		return fmt.Errorf("release schedule failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, resp.Status, detail)
	}
	return nil
}

type paddleSubscription struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	ScheduledChange *map[string]any `json:"scheduled_change"`
}

func (p *PaddleProvider) getSubscription(ctx context.Context, subscriptionID string) (*paddleSubscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.apiBaseURL+"/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.Join(ErrGatewayTimeout, err)
		}
		return nil, fmt.Errorf("get subscription failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %s", ErrGatewayRejected, resp.Status, detail)
	}

	var envelope struct {
		Data paddleSubscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode subscription response: %w", err)
	}
	return &envelope.Data, nil
}

func mapPaddleEventType(providerEvent string) EventType {
	switch providerEvent {
	case "subscription.created", "subscription.activated":
		return EventSubscriptionActivated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}
