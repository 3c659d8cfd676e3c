// Package notifications records and delivers the side-effect
// notifications the billing engine emits on user-visible transitions:
// payment settled, subscription expired, cancellation confirmed.
//
// Records are append-only and stored before any delivery attempt, so a
// failing email channel never loses the audit trail.
package notifications
