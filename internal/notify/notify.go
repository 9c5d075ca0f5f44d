// Package notify delivers outbound security events to external consumers.
// The reset pipeline in particular emits ResetRequested with the cleartext
// token; the delivery transport (mail, SMS, webhook) is somebody else's
// service consuming the exchange.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Routing keys on the security events exchange.
const (
	EventResetRequested  = "security.reset_requested"
	EventSessionsRevoked = "security.sessions_revoked"
	EventUserRegistered  = "security.user_registered"
)

// ResetRequested carries the one-time recovery token. It exists only in
// flight; at rest the system holds the hash.
type ResetRequested struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	ResetToken string    `json:"reset_token"`
}

// SessionsRevoked announces a bulk session termination (password change or
// reset) so downstream caches can drop state early.
type SessionsRevoked struct {
	UserID uuid.UUID `json:"user_id"`
	Count  int64     `json:"count"`
}

// UserRegistered carries the email-verification token for a new account.
type UserRegistered struct {
	UserID            uuid.UUID `json:"user_id"`
	Email             string    `json:"email"`
	VerificationToken string    `json:"verification_token"`
}

// Publisher emits events. Implementations log and swallow transport
// failures; an undeliverable notification must not fail the transition
// that produced it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any)
}

// LogPublisher writes events to the structured log. The development
// stand-in for a broker, and deliberately omits secret payload fields.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, payload any) {
	p.Logger.InfoContext(ctx, "outbound_event", "routing_key", routingKey, "payload_type", typeName(payload))
}

func typeName(payload any) string {
	switch payload.(type) {
	case ResetRequested:
		return "ResetRequested"
	case SessionsRevoked:
		return "SessionsRevoked"
	case UserRegistered:
		return "UserRegistered"
	default:
		return "unknown"
	}
}
