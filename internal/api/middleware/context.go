package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/auth"
)

// contextKey is a private type so keys cannot collide with other packages.
type contextKey string

const claimsKey contextKey = "access_claims"

// WithClaims injects the verified access claims into the request context.
func WithClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the verified access claims. Only meaningful after the
// authentication middleware has run.
func GetClaims(ctx context.Context) (*auth.AccessClaims, error) {
	claims, ok := ctx.Value(claimsKey).(*auth.AccessClaims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("access claims not found in context")
	}
	return claims, nil
}

// GetUserID extracts the authenticated subject.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	claims, err := GetClaims(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID()
}
