package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken maps to the unique index on LOWER(email).
	ErrEmailTaken = errors.New("email already registered")
)

// User is the global principal. Users are not tenant-scoped; tenancy enters
// only through role and permission assignments.
type User struct {
	ID                    uuid.UUID
	Name                  string
	Email                 string
	PasswordHash          string
	Active                bool
	MFAEnabled            bool
	MFASecret             string
	VerificationTokenHash string
	EmailVerifiedAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// UserStore is the persistence contract the orchestrator needs. Email
// lookups are case-insensitive.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePasswordHashIf swaps the stored hash only when it still equals
	// expected. The legacy-hash upgrade path uses it so a concurrent change
	// never gets clobbered by a stale re-hash.
	UpdatePasswordHashIf(ctx context.Context, id uuid.UUID, expected, replacement string) (bool, error)

	// SetPasswordHash replaces the hash and, in the same transaction,
	// terminates every session of the user. Password change and reset both
	// require the two effects to commit together or not at all. Returns the
	// number of sessions revoked.
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) (int64, error)

	// ConsumeVerificationToken activates the user matching (id, tokenHash)
	// and clears the token. Returns the verification time.
	ConsumeVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) (time.Time, error)

	SetMFA(ctx context.Context, id uuid.UUID, secret string, enabled bool) error
}
