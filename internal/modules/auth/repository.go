package auth

import (
	"context"
	"errors"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

type Repository interface {
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	User(ctx context.Context, id uuid.UUID) (domain.User, error)
	// CreateUser returns false when a user with the same email exists.
	CreateUser(ctx context.Context, user domain.User) (bool, error)
	// RecordLogin stores the user's login counters and, when session is not
	// nil, the new session, as one unit.
	RecordLogin(ctx context.Context, user domain.User, session *domain.Session) error

	Session(ctx context.Context, id uuid.UUID) (domain.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	RevokeExpiredSessions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
