package billing

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrPlanInactive             = errors.New("subscription plan is not active")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrInvalidCoupon            = errors.New("invalid coupon code")

	ErrRecordNotFound = errors.New("subscription record not found")
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrUnauthorized means the caller does not own the record it tried
	// to mutate. Hard reject, no state change.
	ErrUnauthorized = errors.New("caller does not own this subscription")

	// ErrNotRecurring means a recurring-rail operation was attempted on a
	// record without a gateway subscription.
	ErrNotRecurring = errors.New("subscription is not on the recurring rail")

	ErrNoProviderForRail = errors.New("no payment provider registered for rail")
)
