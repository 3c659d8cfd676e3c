// Package billing is the HTTP surface of the billing engine: checkout
// and instant-charge initiation, client payment-status polling, signed
// webhook intake for the recurring and instant rails, the sweep
// trigger, and downgrade-schedule cancellation.
//
// Webhook endpoints verify provider signatures before touching any
// payload and deduplicate deliveries through an optional DeliveryGuard.
// Mutating endpoints require the authenticated user ID on the request
// context, placed there by the application's auth middleware via
// SetUserID.
package billing
