package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	const q = `
		SELECT
			id, security_stamp, email, password_hash, locked, locked_until, unsuccessful_login_attempts
		FROM
			auth.admin_user
		WHERE
			email = $1;`

	return r.getUser(ctx, q, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) User(ctx context.Context, id uuid.UUID) (domain.User, error) {
	const q = `
		SELECT
			id, security_stamp, email, password_hash, locked, locked_until, unsuccessful_login_attempts
		FROM
			auth.admin_user
		WHERE
			id = $1;`

	return r.getUser(ctx, q, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, q string, arg interface{}) (domain.User, error) {
	var user domain.User
	err := r.db.GetContext(ctx, &user, q, arg)
	switch {
	case err != nil && errors.Is(err, sql.ErrNoRows):
		return domain.User{}, ErrUserNotFound
	case err != nil:
		return domain.User{}, err
	}

	return user, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user domain.User) (bool, error) {
	const stmt = `
		INSERT INTO
			auth.admin_user (id, security_stamp, email, password_hash, locked, locked_until, unsuccessful_login_attempts)
		VALUES
			(:id, :security_stamp, :email, :password_hash, :locked, :locked_until, :unsuccessful_login_attempts)
		ON CONFLICT (email) DO NOTHING;`

	result, err := r.db.NamedExecContext(ctx, stmt, user)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *PostgresRepository) RecordLogin(ctx context.Context, user domain.User, session *domain.Session) error {
	return core.Tx(ctx, r.db, func(ctx context.Context, tx *sqlx.Tx) error {
		const updateUser = `
			UPDATE
				auth.admin_user
			SET
				security_stamp = :security_stamp,
				locked = :locked,
				locked_until = :locked_until,
				unsuccessful_login_attempts = :unsuccessful_login_attempts
			WHERE
				id = :id;`

		if _, err := tx.NamedExecContext(ctx, updateUser, user); err != nil {
			return err
		}

		if session == nil {
			return nil
		}

		const insertSession = `
			INSERT INTO
				auth.session (id, user_id, created_at, expires_at)
			VALUES
				(:id, :user_id, :created_at, :expires_at);`

		_, err := tx.NamedExecContext(ctx, insertSession, session)
		return err
	})
}

func (r *PostgresRepository) Session(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	const q = `
		SELECT
			id, user_id, created_at, expires_at, revoked_at
		FROM
			auth.session
		WHERE
			id = $1;`

	var session domain.Session
	err := r.db.GetContext(ctx, &session, q, id)
	switch {
	case err != nil && errors.Is(err, sql.ErrNoRows):
		return domain.Session{}, ErrSessionNotFound
	case err != nil:
		return domain.Session{}, err
	}

	return session, nil
}

func (r *PostgresRepository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	const stmt = `
		UPDATE
			auth.session
		SET
			revoked_at = $2
		WHERE
			id = $1 AND revoked_at IS NULL;`

	_, err := r.db.ExecContext(ctx, stmt, id, at.UTC())
	return err
}

func (r *PostgresRepository) RevokeUserSessions(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	const stmt = `
		UPDATE
			auth.session
		SET
			revoked_at = $2
		WHERE
			user_id = $1 AND revoked_at IS NULL
		RETURNING
			id;`

	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, stmt, userID, at.UTC())
	return ids, err
}

func (r *PostgresRepository) RevokeExpiredSessions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const stmt = `
		UPDATE
			auth.session
		SET
			revoked_at = $1
		WHERE
			expires_at <= $1 AND revoked_at IS NULL
		RETURNING
			id;`

	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, stmt, now.UTC())
	return ids, err
}
