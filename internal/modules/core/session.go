package core

import (
	"context"

	"github.com/google/uuid"
)

type ContextKey string

const SessionContextKey ContextKey = "session"

// ContextSession identifies the signed-in actor of a request.
type ContextSession struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Email     string
}

func WithSession(ctx context.Context, session ContextSession) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}

func Session(ctx context.Context) (ContextSession, bool) {
	session, ok := ctx.Value(SessionContextKey).(ContextSession)
	return session, ok
}
