package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Manager stores notifications and attempts real-time delivery.
type Manager struct {
	storage   Storage
	deliverer Deliverer
	logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new notification manager.
func NewManager(storage Storage, deliverer Deliverer, opts ...ManagerOption) *Manager {
	if deliverer == nil {
		deliverer = NoOpDeliverer{}
	}

	m := &Manager{
		storage:   storage,
		deliverer: deliverer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send stores the notification, then attempts delivery. Storage comes
// first so the record survives even when the delivery channel is down.
func (m *Manager) Send(ctx context.Context, notif Notification) error {
	if notif.ID == "" {
		notif.ID = uuid.New().String()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}

	if err := m.storage.Create(ctx, notif); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	if err := m.deliverer.Deliver(ctx, notif); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "notification stored but delivery failed",
			slog.String("notification_id", notif.ID),
			slog.String("user_id", notif.UserID),
			slog.String("event", string(notif.Event)),
			slog.Any("error", err),
		)
	}

	return nil
}

// List returns the user's notifications, newest first.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return m.storage.List(ctx, userID, limit)
}
