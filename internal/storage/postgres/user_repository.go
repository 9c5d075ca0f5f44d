package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clavis-id/clavis/internal/auth"
)

const uniqueViolation = "23505"

// UserRepository implements auth.UserStore.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, active, mfa_enabled,
	COALESCE(mfa_secret, ''), COALESCE(verification_token_hash, ''),
	email_verified_at, created_at, updated_at`

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Active, &u.MFAEnabled,
		&u.MFASecret, &u.VerificationTokenHash,
		&u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, active, mfa_enabled,
			verification_token_hash, created_at, updated_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, NULLIF($7, ''), $8, $9)
	`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Active,
		user.MFAEnabled, user.VerificationTokenHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email))
}

func (r *UserRepository) UpdatePasswordHashIf(ctx context.Context, id uuid.UUID, expected, replacement string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $3, updated_at = now()
		WHERE id = $1 AND password_hash = $2
	`, id, expected, replacement)
	if err != nil {
		return false, fmt.Errorf("failed to upgrade password hash: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetPasswordHash installs the new hash and terminates every live session
// of the user in one transaction: the two effects commit together or not
// at all.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, auth.ErrUserNotFound
	}

	revoked, err := tx.Exec(ctx, `
		UPDATE sessions SET expires_at = to_timestamp(0)
		WHERE user_id = $1 AND expires_at > now()
	`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return revoked.RowsAffected(), nil
}

func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) (time.Time, error) {
	var verifiedAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET active = TRUE, email_verified_at = now(), verification_token_hash = NULL, updated_at = now()
		WHERE id = $1 AND verification_token_hash = $2
		RETURNING email_verified_at
	`, id, tokenHash).Scan(&verifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, auth.ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("failed to consume verification token: %w", err)
	}
	return verifiedAt, nil
}

func (r *UserRepository) SetMFA(ctx context.Context, id uuid.UUID, secret string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET mfa_secret = NULLIF($2, ''), mfa_enabled = $3, updated_at = now()
		WHERE id = $1
	`, id, secret, enabled)
	if err != nil {
		return fmt.Errorf("failed to update mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
