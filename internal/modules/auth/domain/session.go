package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrSessionRevoked = errors.New("session revoked")
)

type Session struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

func NewSession(userID uuid.UUID, now time.Time, ttl time.Duration) Session {
	now = now.UTC()
	return Session{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s Session) Validate(now time.Time) error {
	if s.RevokedAt != nil {
		return ErrSessionRevoked
	}

	if !now.Before(s.ExpiresAt) {
		return ErrSessionExpired
	}

	return nil
}

// Principal is the authenticated identity behind a live session.
type Principal struct {
	UserID    uuid.UUID `json:"userId"`
	SessionID uuid.UUID `json:"sessionId"`
	Email     string    `json:"email"`
}
