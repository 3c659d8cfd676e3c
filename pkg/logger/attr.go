package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// IntentID records the payment intent identifier under the key "intent_id".
func IntentID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("intent_id", id)
}

// PlanSlug records the plan slug under the key "plan_slug".
func PlanSlug(slug string) slog.Attr {
	return slog.String("plan_slug", slug)
}

// Rail records the payment rail under the key "rail".
func Rail(rail any) slog.Attr {
	if rail == nil {
		return slog.Attr{}
	}
	return slog.Any("rail", rail)
}

// Component records the engine component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
