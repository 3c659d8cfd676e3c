// Package webhook verifies signatures on inbound payment-provider
// webhooks. The instant-payment rails sign deliveries with
// HMAC-SHA256 over "timestamp.payload" under a per-provider shared
// secret; no payload is trusted before verification succeeds.
package webhook
