package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxLoginAttempts = 3
	LockoutDuration  = 15 * time.Minute
)

var ErrAccountLocked = errors.New("account locked")

type User struct {
	ID                        uuid.UUID  `db:"id"`
	SecurityStamp             uuid.UUID  `db:"security_stamp"`
	Email                     string     `db:"email"`
	PasswordHash              string     `db:"password_hash"`
	Locked                    bool       `db:"locked"`
	LockedUntil               *time.Time `db:"locked_until"`
	UnsuccessfulLoginAttempts int        `db:"unsuccessful_login_attempts"`
}

func NewUser(email string, password string, passwordHasher *PasswordHasher) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, fmt.Errorf("invalid Email: '%s'", email)
	}

	if password == "" {
		return User{}, fmt.Errorf("invalid Password")
	}

	passwordHash, err := passwordHasher.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:            uuid.New(),
		SecurityStamp: uuid.New(),
		Email:         email,
		PasswordHash:  passwordHash,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether the lockout is still running at now.
func (u User) IsLocked(now time.Time) bool {
	if !u.Locked {
		return false
	}

	return u.LockedUntil == nil || now.Before(*u.LockedUntil)
}

// Unlock lifts the lockout and forgets earlier failures.
func (u *User) Unlock() {
	u.Locked = false
	u.LockedUntil = nil
	u.UnsuccessfulLoginAttempts = 0
}

// Authenticate checks the password and keeps count of failures. The account
// locks for LockoutDuration after MaxLoginAttempts failures in a row.
func (u *User) Authenticate(password string, passwordHasher *PasswordHasher, now time.Time) error {
	if u.IsLocked(now) {
		return fmt.Errorf("authentication failed: %w", ErrAccountLocked)
	}

	if u.Locked {
		u.Unlock()
	}

	err := passwordHasher.Verify(u.PasswordHash, password)
	if err == nil {
		u.UnsuccessfulLoginAttempts = 0
		return nil
	}

	u.UnsuccessfulLoginAttempts++

	if u.UnsuccessfulLoginAttempts >= MaxLoginAttempts {
		until := now.UTC().Add(LockoutDuration)
		u.Locked = true
		u.LockedUntil = &until
		u.SecurityStamp = uuid.New()
		return fmt.Errorf("authentication failed: %w", ErrAccountLocked)
	}

	return fmt.Errorf("authentication failed: %w", err)
}
