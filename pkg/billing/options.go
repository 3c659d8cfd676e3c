package billing

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// Option configures the Engine.
type Option func(*Engine)

// WithInstantProvider registers an instant-payment gateway adapter.
func WithInstantProvider(p gateway.InstantProvider) Option {
	return func(e *Engine) {
		if p != nil {
			e.instant[p.Rail()] = p
		}
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithDiscountResolver wires coupon resolution into checkout.
func WithDiscountResolver(r DiscountResolver) Option {
	return func(e *Engine) {
		e.discounts = r
	}
}

// WithRoleDemoter wires the product-role demotion applied on downgrade.
func WithRoleDemoter(d RoleDemoter) Option {
	return func(e *Engine) {
		e.demoteRole = d
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSuccessURL sets the redirect target after a hosted checkout.
func WithSuccessURL(url string) Option {
	return func(e *Engine) {
		e.successURL = url
	}
}

// WithRenewalURL sets the call-to-action link on expiry notifications.
func WithRenewalURL(url string) Option {
	return func(e *Engine) {
		e.renewalURL = url
	}
}

// WithIntentTTL sets how long an instant charge stays payable.
func WithIntentTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.intentTTL = ttl
		}
	}
}

// WithPollInterval sets the client polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}
