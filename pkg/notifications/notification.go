package notifications

import (
	"time"
)

// Event classifies the billing transition that produced a notification.
type Event string

const (
	EventPaymentSuccess        Event = "payment_success"
	EventSubscriptionExpired   Event = "subscription_expired"
	EventSubscriptionCancelled Event = "subscription_cancelled"
)

// Type represents the notification severity shown to the user.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
)

// Action is a call-to-action button attached to a notification, e.g. the
// renewal link on an expiry notice.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is an append-only side-effect record emitted by the
// engine on state transitions that affect the user.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Email     string         `json:"email,omitempty"`
	Event     Event          `json:"event"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Action    *Action        `json:"action,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
