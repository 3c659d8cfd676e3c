package notifications

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage persists notification records. The table is append-only: the
// engine never updates or deletes what it emitted.
type Storage interface {
	// Create stores a new notification.
	Create(ctx context.Context, notif Notification) error

	// List returns notifications for a user, newest first.
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
}

// MemoryStorage is an in-memory Storage for tests and single-process
// setups. Safe for concurrent use.
type MemoryStorage struct {
	mu    sync.RWMutex
	items []Notification
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Create(ctx context.Context, notif Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, notif)
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].UserID == userID {
			out = append(out, s.items[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every stored notification. Test helper.
func (s *MemoryStorage) All() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// PGStorage is the PostgreSQL Storage.
type PGStorage struct {
	pool *pgxpool.Pool
}

// NewPGStorage creates a storage backed by the given pool.
func NewPGStorage(pool *pgxpool.Pool) *PGStorage {
	return &PGStorage{pool: pool}
}

func (s *PGStorage) Create(ctx context.Context, notif Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, email, event, type, title, message, data, action_label, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		notif.ID, notif.UserID, notif.Email, notif.Event, notif.Type,
		notif.Title, notif.Message, notif.Data, actionLabel(notif.Action), actionURL(notif.Action),
		notif.CreatedAt)
	return err
}

func (s *PGStorage) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, email, event, type, title, message, data, action_label, action_url, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var notif Notification
		var label, url *string
		if err := rows.Scan(&notif.ID, &notif.UserID, &notif.Email, &notif.Event, &notif.Type,
			&notif.Title, &notif.Message, &notif.Data, &label, &url, &notif.CreatedAt); err != nil {
			return nil, err
		}
		if label != nil && url != nil {
			notif.Action = &Action{Label: *label, URL: *url}
		}
		out = append(out, notif)
	}
	return out, rows.Err()
}

func actionLabel(a *Action) *string {
	if a == nil {
		return nil
	}
	return &a.Label
}

func actionURL(a *Action) *string {
	if a == nil {
		return nil
	}
	return &a.URL
}
