// Package redis provides connection bootstrapping for go-redis/v9 plus an
// idempotency guard used to deduplicate at-least-once webhook deliveries
// across engine instances.
package redis
