package billing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var userIDKey = contextKey{"billing:user_id"}

// SetUserID stores the authenticated user's ID on the context. The
// application's auth middleware calls this before mounting the router.
func SetUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the authenticated user's ID. The second
// return is false on unauthenticated requests.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}
