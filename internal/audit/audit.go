// Package audit is the append-only journal of security-relevant events.
// Every transition produces exactly one event; no event is ever mutated.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action codes for every security-relevant transition.
const (
	ActionLoginSuccess           = "LOGIN_SUCCESS"
	ActionLoginFail              = "LOGIN_FAIL"
	ActionLoginBlocked           = "LOGIN_BLOCKED"
	ActionLoginMFAChallenge      = "LOGIN_MFA_CHALLENGE"
	ActionRefreshSuccess         = "REFRESH_SUCCESS"
	ActionRefreshFail            = "REFRESH_FAIL"
	ActionLogout                 = "LOGOUT"
	ActionPasswordChanged        = "PASSWORD_CHANGED"
	ActionPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	ActionPasswordReset          = "PASSWORD_RESET"
	ActionRegister               = "REGISTER"
	ActionEmailVerified          = "EMAIL_VERIFIED"
	ActionMFAEnabled             = "MFA_ENABLED"
	ActionSessionRevoked         = "SESSION_REVOKED"
	ActionAccessDecision         = "ACCESS_DECISION"
	ActionTenantSwitch           = "TENANT_SWITCH"
	ActionAdminWrite             = "ADMIN_WRITE"
)

// Event is one journal row.
type Event struct {
	ID           uuid.UUID
	ActorID      *uuid.UUID
	SessionID    *uuid.UUID
	TenantID     *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Details      string
	IPAddress    string
	UserAgent    string
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// Recorder accepts events. Implementations must not block the caller's
// response path; durability is their problem, not the handler's.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Store is the persistence contract of the journal.
type Store interface {
	Insert(ctx context.Context, event *Event) error
}

// Reader is the query side, used by the tenant-scoped audit view. Reads
// never mutate; the journal has no update or delete path.
type Reader interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]Event, error)
}

// Nop drops everything. Installed when AUDIT_LOG_ENABLED is off and in
// tests that don't assert on the journal.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Ref is a convenience for the nullable id columns.
func Ref(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
