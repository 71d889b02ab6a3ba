package auth

import (
	"context"
	"sync"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"

	"github.com/google/uuid"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps users and sessions in process. It backs the
// "memory" store driver and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[uuid.UUID]domain.User
	sessions map[uuid.UUID]domain.Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[uuid.UUID]domain.User),
		sessions: make(map[uuid.UUID]domain.Session),
	}
}

func (r *MemoryRepository) UserByEmail(_ context.Context, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}

	return domain.User{}, ErrUserNotFound
}

func (r *MemoryRepository) User(_ context.Context, id uuid.UUID) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}

	return user, nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, user domain.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return false, nil
		}
	}

	r.users[user.ID] = user
	return true, nil
}

func (r *MemoryRepository) RecordLogin(_ context.Context, user domain.User, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}

	r.users[user.ID] = user
	if session != nil {
		r.sessions[session.ID] = *session
	}

	return nil
}

func (r *MemoryRepository) Session(_ context.Context, id uuid.UUID) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}

	return session, nil
}

func (r *MemoryRepository) RevokeSession(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok && session.RevokedAt == nil {
		r.revoke(session, at)
	}

	return nil
}

func (r *MemoryRepository) RevokeUserSessions(_ context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	return r.revokeWhere(at, func(s domain.Session) bool {
		return s.UserID == userID
	}), nil
}

func (r *MemoryRepository) RevokeExpiredSessions(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.revokeWhere(now, func(s domain.Session) bool {
		return !now.Before(s.ExpiresAt)
	}), nil
}

func (r *MemoryRepository) revokeWhere(at time.Time, match func(domain.Session) bool) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := []uuid.UUID{}
	for _, session := range r.sessions {
		if session.RevokedAt != nil || !match(session) {
			continue
		}

		r.revoke(session, at)
		ids = append(ids, session.ID)
	}

	return ids
}

func (r *MemoryRepository) revoke(session domain.Session, at time.Time) {
	at = at.UTC()
	session.RevokedAt = &at
	r.sessions[session.ID] = session
}
