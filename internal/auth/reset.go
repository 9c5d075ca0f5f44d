package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrResetTokenInvalid covers not-found, expired, and already-consumed
// uniformly; callers get no signal about which it was.
var ErrResetTokenInvalid = errors.New("invalid or expired reset token")

// ResetTokenStore persists single-use recovery tokens, hashed at rest.
type ResetTokenStore interface {
	// Issue stores the hash of a fresh token for the user.
	Issue(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error

	// Consume atomically claims the unexpired, unconsumed row matching
	// tokenHash and returns its user. Of any number of concurrent callers,
	// exactly one succeeds; the rest get ErrResetTokenInvalid.
	Consume(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, error)

	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
