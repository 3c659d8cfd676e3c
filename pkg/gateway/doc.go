// Package gateway normalizes heterogeneous payment-provider APIs into a
// single internal representation.
//
// Two kinds of rails exist: a recurring-subscription gateway (Paddle)
// with hosted checkout and signed webhooks, and two structurally
// identical instant-payment gateways that mint QR charges and answer
// status polls. Every provider-specific state maps onto the four
// canonical statuses: pending, settled, expired, cancelled.
//
// Failure policy: external calls carry a fixed 25s timeout. An aborted
// call is ErrGatewayTimeout (retryable by the caller); an explicit
// provider refusal is ErrGatewayRejected (terminal). The adapters never
// retry internally.
package gateway
