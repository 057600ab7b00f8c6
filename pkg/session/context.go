package session

import (
	"context"
	"errors"
)

type contextKey string

const sessionIDKey contextKey = "session_id"

// ErrNoSessionInContext is returned when the request carries no wizard session
var ErrNoSessionInContext = errors.New("no session in context")

// WithSessionID adds the wizard session id to the context.
// Called by the auth middleware after the session token is verified.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID extracts the session id from context
func SessionID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(sessionIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoSessionInContext
	}
	return id, nil
}

// Namespace returns the key-value namespace holding the session's persisted
// state. Every key of one session lives under the same namespace.
func Namespace(sessionID string) string {
	return "session:" + sessionID
}
