// Package authz implements the authorization decision engine: RBAC
// resolution across users, tenants, roles, and permissions, overlaid with
// ABAC policy evaluation.
package authz

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrDuplicate maps unique-constraint violations on the RBAC tables.
	ErrDuplicate = errors.New("duplicate rbac entity")
	// ErrNotFound covers missing referenced entities on administrative
	// writes.
	ErrNotFound = errors.New("rbac entity not found")
)

// Effect is a policy's disposition. DENY policies evaluate strictly before
// ALLOW policies.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Wildcard matches any action or resource in a policy's lists.
const Wildcard = "*"

// SuperAdminRole is the bootstrap role living under the system root
// landlord.
const SuperAdminRole = "SUPER_ADMIN"

// Role is a landlord-scoped named bundle of permissions.
type Role struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string
	LandlordID  uuid.UUID
}

// Permission is an atomic (action, resource) capability, landlord-scoped.
type Permission struct {
	ID         uuid.UUID
	Action     string
	Resource   string
	LandlordID uuid.UUID
}

// Key renders the "action:resource" form carried in token claims.
func (p Permission) Key() string { return p.Action + ":" + p.Resource }

// Policy is an ABAC rule owned by a tenant.
type Policy struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Code      string
	Name      string
	Effect    Effect
	Actions   []string
	Resources []string
	Condition Condition
}

// RawPolicy is the storage-level shape before the condition document is
// parsed into the closed predicate set.
type RawPolicy struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Code      string
	Name      string
	Effect    Effect
	Actions   []string
	Resources []string
	Condition json.RawMessage
}

// Parse turns the raw condition document into the typed form. A document
// that fails to parse yields a policy whose condition never evaluates true.
func (rp RawPolicy) Parse() Policy {
	return Policy{
		ID:        rp.ID,
		TenantID:  rp.TenantID,
		Code:      rp.Code,
		Name:      rp.Name,
		Effect:    rp.Effect,
		Actions:   rp.Actions,
		Resources: rp.Resources,
		Condition: ParseCondition(rp.Condition),
	}
}

// Snapshot is the effective view of a principal inside one tenant (or the
// landlord-anchored view when no tenant is given): role codes, reachable
// permissions, every policy owned by the tenant, and whether the principal
// is live there at all. A policy tagged on a role-permission binding does
// not gate that permission; it only takes part in ABAC evaluation like any
// other policy of the tenant.
type Snapshot struct {
	Roles       []string
	Permissions []string
	Policies    []Policy
	// Active means the user is active AND holds at least one assignment in
	// the scope.
	Active bool
}

// HasRole reports membership in the snapshot's role set.
func (s *Snapshot) HasRole(code string) bool {
	for _, r := range s.Roles {
		if r == code {
			return true
		}
	}
	return false
}

// Store is the read contract backing the resolver. Each call is a single
// logical query against the assignment graph.
type Store interface {
	// ResolveTenant produces the snapshot for (user, tenant).
	ResolveTenant(ctx context.Context, userID, tenantID uuid.UUID) (*Snapshot, error)

	// ResolveAnchored produces the landlord-anchored view: everything
	// reachable through any tenant of the landlord; a nil landlord spans
	// all of them. It backs bootstrap role checks and every tenant-less
	// resolution, including the roles and permissions minted at login and
	// refresh.
	ResolveAnchored(ctx context.Context, userID uuid.UUID, landlordID *uuid.UUID) (*Snapshot, error)
}
