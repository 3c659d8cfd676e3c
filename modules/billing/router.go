package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	billingengine "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// DeliveryGuard deduplicates webhook deliveries. Satisfied by
// *redis.IdempotencyGuard; nil disables dedup (single-instance setups
// already get at-most-once semantics from the conditional intent
// transitions, the guard just avoids redundant work).
type DeliveryGuard interface {
	FirstDelivery(ctx context.Context, provider, externalID string) (bool, error)
	// Forget releases a claimed key so the provider's retry of a
	// delivery that failed to process is not dropped as a duplicate.
	Forget(ctx context.Context, provider, externalID string) error
}

// Module is the HTTP surface of the billing engine.
type Module struct {
	engine     *billingengine.Engine
	recurring  gateway.RecurringProvider
	guard      DeliveryGuard
	secrets    map[gateway.Rail]string
	sweepToken string
	log        *slog.Logger
}

// Option configures the Module.
type Option func(*Module)

// WithDeliveryGuard enables cross-instance webhook dedup.
func WithDeliveryGuard(g DeliveryGuard) Option {
	return func(m *Module) { m.guard = g }
}

// WithInstantWebhookSecret sets the HMAC secret used to verify webhook
// deliveries from an instant rail. Rails without a secret reject every
// delivery.
func WithInstantWebhookSecret(rail gateway.Rail, secret string) Option {
	return func(m *Module) { m.secrets[rail] = secret }
}

// WithSweepToken protects the sweep trigger endpoint with a shared
// secret. An empty token disables the endpoint entirely.
func WithSweepToken(token string) Option {
	return func(m *Module) { m.sweepToken = token }
}

// WithLogger sets the module logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Module) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates the billing HTTP module. The recurring provider is needed
// here, not just inside the engine, because webhook signature
// verification is provider-specific and happens at the HTTP boundary.
func New(engine *billingengine.Engine, recurring gateway.RecurringProvider, opts ...Option) *Module {
	if engine == nil {
		panic("billing module: engine is required")
	}
	if recurring == nil {
		panic("billing module: recurring provider is required")
	}
	m := &Module{
		engine:    engine,
		recurring: recurring,
		secrets:   make(map[gateway.Rail]string),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Router mounts the billing endpoints.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billingmodule.New(engine, paddleProvider,
//	    billingmodule.WithInstantWebhookSecret(gateway.RailInstantA, cfg.InstantAWebhookSecret),
//	    billingmodule.WithInstantWebhookSecret(gateway.RailInstantB, cfg.InstantBWebhookSecret),
//	    billingmodule.WithDeliveryGuard(guard),
//	).Router())
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/checkout", m.handleCheckout)
	r.Post("/instant-charge", m.handleInstantCharge)
	r.Post("/payment-status", m.handlePaymentStatus)
	r.Post("/cancel-downgrade", m.handleCancelDowngrade)

	r.Route("/webhooks", func(wh chi.Router) {
		wh.Post("/paddle", m.handlePaddleWebhook)
		wh.Post("/instant-a", m.handleInstantWebhook(gateway.RailInstantA))
		wh.Post("/instant-b", m.handleInstantWebhook(gateway.RailInstantB))
	})

	r.Post("/sweep", m.handleSweep)

	return r
}
