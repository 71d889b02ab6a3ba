package auth

import (
	"context"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"

	"go.uber.org/zap"
)

// EnsureAdmin creates the administrator account on first start. An existing
// account keeps its password but has any lockout lifted.
func EnsureAdmin(
	ctx context.Context,
	repository Repository,
	hasher *domain.PasswordHasher,
	email string,
	password string,
	log *zap.Logger,
) error {
	if email == "" || password == "" {
		log.Warn("admin credentials not configured, skipping admin account")
		return nil
	}

	user, err := domain.NewUser(email, password, hasher)
	if err != nil {
		return err
	}

	created, err := repository.CreateUser(ctx, user)
	if err != nil {
		return err
	}

	if created {
		log.Info("admin account created", zap.String("email", user.Email))
		return nil
	}

	existing, err := repository.UserByEmail(ctx, user.Email)
	if err != nil {
		return err
	}

	if !existing.Locked && existing.UnsuccessfulLoginAttempts == 0 {
		return nil
	}

	existing.Unlock()
	if err := repository.RecordLogin(ctx, existing, nil); err != nil {
		return err
	}

	log.Info("admin account unlocked", zap.String("email", existing.Email))

	return nil
}
