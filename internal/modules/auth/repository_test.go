package auth

import (
	"context"
	"testing"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testRepository runs the behaviour every Repository implementation shares.
func testRepository(t *testing.T, newRepository func(t *testing.T) Repository) {
	hasher := domain.NewBcryptPasswordHasher(bcrypt.MinCost)
	ctx := context.Background()

	newUser := func(t *testing.T, repository Repository) domain.User {
		user, err := domain.NewUser(uuid.NewString()+"@example.com", adminPassword, hasher)
		require.NoError(t, err)

		created, err := repository.CreateUser(ctx, user)
		require.NoError(t, err)
		require.True(t, created)

		return user
	}

	t.Run("CreateUser_Returns_False_When_Email_Exists", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)
		user := newUser(t, repository)

		duplicate, err := domain.NewUser(user.Email, "another-password", hasher)
		require.NoError(t, err)

		// Act
		created, err := repository.CreateUser(ctx, duplicate)

		// Assert
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("UserByEmail_Returns_ErrUserNotFound_When_Missing", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)

		// Act
		_, err := repository.UserByEmail(ctx, "nobody@example.com")

		// Assert
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("RecordLogin_Stores_Counters_And_Session", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)
		user := newUser(t, repository)
		user.UnsuccessfulLoginAttempts = 2
		session := domain.NewSession(user.ID, time.Now(), time.Hour)

		// Act
		err := repository.RecordLogin(ctx, user, &session)

		// Assert
		require.NoError(t, err)

		stored, err := repository.UserByEmail(ctx, user.Email)
		require.NoError(t, err)
		require.Equal(t, 2, stored.UnsuccessfulLoginAttempts)

		storedSession, err := repository.Session(ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, user.ID, storedSession.UserID)
		require.NoError(t, storedSession.Validate(time.Now()))
	})

	t.Run("RecordLogin_Stores_Lockout_Deadline", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)
		user := newUser(t, repository)
		until := time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)
		user.Locked = true
		user.LockedUntil = &until

		// Act
		err := repository.RecordLogin(ctx, user, nil)

		// Assert
		require.NoError(t, err)

		stored, err := repository.UserByEmail(ctx, user.Email)
		require.NoError(t, err)
		require.True(t, stored.Locked)
		require.NotNil(t, stored.LockedUntil)
		require.True(t, until.Equal(*stored.LockedUntil))
		require.False(t, stored.IsLocked(until))
	})

	t.Run("RevokeUserSessions_Revokes_Only_Live_Sessions_Of_User", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)
		user := newUser(t, repository)
		other := newUser(t, repository)

		first := domain.NewSession(user.ID, time.Now(), time.Hour)
		second := domain.NewSession(user.ID, time.Now(), time.Hour)
		foreign := domain.NewSession(other.ID, time.Now(), time.Hour)
		require.NoError(t, repository.RecordLogin(ctx, user, &first))
		require.NoError(t, repository.RecordLogin(ctx, user, &second))
		require.NoError(t, repository.RecordLogin(ctx, other, &foreign))
		require.NoError(t, repository.RevokeSession(ctx, first.ID, time.Now()))

		// Act
		revoked, err := repository.RevokeUserSessions(ctx, user.ID, time.Now())

		// Assert
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{second.ID}, revoked)

		stored, err := repository.Session(ctx, foreign.ID)
		require.NoError(t, err)
		require.Nil(t, stored.RevokedAt)
	})

	t.Run("RevokeExpiredSessions_Returns_Expired_Ids", func(t *testing.T) {
		// Arrange
		repository := newRepository(t)
		user := newUser(t, repository)

		expired := domain.NewSession(user.ID, time.Now().Add(-2*time.Hour), time.Hour)
		live := domain.NewSession(user.ID, time.Now(), time.Hour)
		require.NoError(t, repository.RecordLogin(ctx, user, &expired))
		require.NoError(t, repository.RecordLogin(ctx, user, &live))

		// Act
		revoked, err := repository.RevokeExpiredSessions(ctx, time.Now())

		// Assert
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{expired.ID}, revoked)

		stored, err := repository.Session(ctx, expired.ID)
		require.NoError(t, err)
		require.ErrorIs(t, stored.Validate(time.Now()), domain.ErrSessionRevoked)
	})
}

func Test_MemoryRepository(t *testing.T) {
	testRepository(t, func(*testing.T) Repository {
		return NewMemoryRepository()
	})
}
