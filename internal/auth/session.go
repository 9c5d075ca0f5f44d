package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the live refresh context for one device. The refresh secret is
// stored only as a SHA-256 digest; rotation swaps the digest under a
// compare-and-swap so a replayed credential can never race a rotation.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	UserAgent        string
	IPAddress        string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Live reports whether the session is usable at the given instant.
// Liveness is never cached: the row plus this predicate is the only truth.
func (s *Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// SessionStore persists refresh state.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)

	// Rotate atomically swaps the refresh hash and expiry, guarded on the
	// current hash. It returns ErrSessionNotFound when the guard misses —
	// either the session is gone or the presented credential is stale.
	Rotate(ctx context.Context, id uuid.UUID, currentHash, newHash string, expiresAt time.Time) error

	// Revoke moves expires_at into the past. Idempotent.
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// PurgeExpired deletes rows dead at now. Lookups filter by expiry
	// regardless, so this is pure housekeeping and safe to run concurrently.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
