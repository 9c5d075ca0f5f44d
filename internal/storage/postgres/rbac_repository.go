package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clavis-id/clavis/internal/authz"
)

// RBACRepository implements authz.Store and the administrative writes on
// the role, permission, policy, and assignment tables.
type RBACRepository struct {
	pool *pgxpool.Pool
}

func NewRBACRepository(pool *pgxpool.Pool) *RBACRepository {
	return &RBACRepository{pool: pool}
}

// ResolveTenant computes the effective snapshot for (user, tenant) in one
// batched round trip: user liveness, role codes, role-derived permissions,
// direct grants, and the tenant's policy set. The policy_id tag on
// role_permissions is not read, so a bound policy does not restrict the
// permission it is bound to. Deactivated tenants contribute nothing.
func (r *RBACRepository) ResolveTenant(ctx context.Context, userID, tenantID uuid.UUID) (*authz.Snapshot, error) {
	batch := &pgx.Batch{}
	batch.Queue(`SELECT active FROM users WHERE id = $1`, userID)
	batch.Queue(`
		SELECT r.code
		FROM user_tenant_roles utr
		JOIN roles r ON r.id = utr.role_id
		JOIN tenants t ON t.id = utr.tenant_id AND t.active
		WHERE utr.user_id = $1 AND utr.tenant_id = $2
	`, userID, tenantID)
	batch.Queue(`
		SELECT p.action, p.resource
		FROM user_tenant_roles utr
		JOIN role_permissions rp ON rp.role_id = utr.role_id
		JOIN permissions p ON p.id = rp.permission_id
		JOIN tenants t ON t.id = utr.tenant_id AND t.active
		WHERE utr.user_id = $1 AND utr.tenant_id = $2
	`, userID, tenantID)
	batch.Queue(`
		SELECT p.action, p.resource
		FROM user_tenant_permissions utp
		JOIN permissions p ON p.id = utp.permission_id
		JOIN tenants t ON t.id = utp.tenant_id AND t.active
		WHERE utp.user_id = $1 AND utp.tenant_id = $2
	`, userID, tenantID)
	batch.Queue(`
		SELECT id, tenant_id, code, name, effect, actions, resources, condition
		FROM policies WHERE tenant_id = $1
	`, tenantID)

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var active bool
	if err := results.QueryRow().Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &authz.Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	roles, err := scanStrings(results)
	if err != nil {
		return nil, err
	}

	rolePerms, err := scanPermissionKeys(results)
	if err != nil {
		return nil, err
	}
	directPerms, err := scanPermissionKeys(results)
	if err != nil {
		return nil, err
	}

	policies, err := scanPolicies(results)
	if err != nil {
		return nil, err
	}

	return &authz.Snapshot{
		Roles:       roles,
		Permissions: mergeKeys(rolePerms, directPerms),
		Policies:    policies,
		Active:      active && len(roles)+len(directPerms) > 0,
	}, nil
}

// ResolveAnchored computes the landlord-anchored view: everything
// reachable through any (active) tenant, optionally narrowed to one
// landlord. Policies are omitted — this view backs bootstrap role checks
// and the tenant-less roles and permissions minted at login and refresh.
func (r *RBACRepository) ResolveAnchored(ctx context.Context, userID uuid.UUID, landlordID *uuid.UUID) (*authz.Snapshot, error) {
	batch := &pgx.Batch{}
	batch.Queue(`SELECT active FROM users WHERE id = $1`, userID)
	batch.Queue(`
		SELECT DISTINCT r.code
		FROM user_tenant_roles utr
		JOIN roles r ON r.id = utr.role_id
		JOIN tenants t ON t.id = utr.tenant_id AND t.active
		WHERE utr.user_id = $1 AND ($2::uuid IS NULL OR t.landlord_id = $2)
	`, userID, landlordID)
	batch.Queue(`
		SELECT DISTINCT p.action, p.resource
		FROM user_tenant_roles utr
		JOIN role_permissions rp ON rp.role_id = utr.role_id
		JOIN permissions p ON p.id = rp.permission_id
		JOIN tenants t ON t.id = utr.tenant_id AND t.active
		WHERE utr.user_id = $1 AND ($2::uuid IS NULL OR t.landlord_id = $2)
	`, userID, landlordID)
	batch.Queue(`
		SELECT DISTINCT p.action, p.resource
		FROM user_tenant_permissions utp
		JOIN permissions p ON p.id = utp.permission_id
		JOIN tenants t ON t.id = utp.tenant_id AND t.active
		WHERE utp.user_id = $1 AND ($2::uuid IS NULL OR t.landlord_id = $2)
	`, userID, landlordID)

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var active bool
	if err := results.QueryRow().Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &authz.Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	roles, err := scanStrings(results)
	if err != nil {
		return nil, err
	}
	rolePerms, err := scanPermissionKeys(results)
	if err != nil {
		return nil, err
	}
	directPerms, err := scanPermissionKeys(results)
	if err != nil {
		return nil, err
	}

	return &authz.Snapshot{
		Roles:       roles,
		Permissions: mergeKeys(rolePerms, directPerms),
		Active:      active && len(roles)+len(directPerms) > 0,
	}, nil
}

func scanStrings(results pgx.BatchResults) ([]string, error) {
	rows, err := results.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanPermissionKeys(results pgx.BatchResults) ([]string, error) {
	rows, err := results.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var action, resource string
		if err := rows.Scan(&action, &resource); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, action+":"+resource)
	}
	return out, rows.Err()
}

func scanPolicies(results pgx.BatchResults) ([]authz.Policy, error) {
	rows, err := results.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	var out []authz.Policy
	for rows.Next() {
		var raw authz.RawPolicy
		var condition []byte
		if err := rows.Scan(&raw.ID, &raw.TenantID, &raw.Code, &raw.Name,
			&raw.Effect, &raw.Actions, &raw.Resources, &condition); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		raw.Condition = json.RawMessage(condition)
		out = append(out, raw.Parse())
	}
	return out, rows.Err()
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, keys := range [][]string{a, b} {
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func mapWriteErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return authz.ErrDuplicate
		case "23503": // foreign key violation
			return authz.ErrNotFound
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (r *RBACRepository) CreateRole(ctx context.Context, role *authz.Role) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (id, code, name, description, landlord_id)
		VALUES ($1, $2, $3, $4, $5)
	`, role.ID, role.Code, role.Name, role.Description, role.LandlordID)
	if err != nil {
		return mapWriteErr(err, "create role")
	}
	return nil
}

func (r *RBACRepository) CreatePermission(ctx context.Context, perm *authz.Permission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permissions (id, action, resource, landlord_id)
		VALUES ($1, $2, $3, $4)
	`, perm.ID, perm.Action, perm.Resource, perm.LandlordID)
	if err != nil {
		return mapWriteErr(err, "create permission")
	}
	return nil
}

func (r *RBACRepository) CreatePolicy(ctx context.Context, policy *authz.RawPolicy) error {
	condition := policy.Condition
	if len(condition) == 0 {
		condition = json.RawMessage("{}")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO policies (id, tenant_id, code, name, effect, actions, resources, condition)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, policy.ID, policy.TenantID, policy.Code, policy.Name, policy.Effect,
		policy.Actions, policy.Resources, []byte(condition))
	if err != nil {
		return mapWriteErr(err, "create policy")
	}
	return nil
}

func (r *RBACRepository) BindPermission(ctx context.Context, roleID, permissionID uuid.UUID, policyID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, policy_id)
		VALUES ($1, $2, $3)
	`, roleID, permissionID, policyID)
	if err != nil {
		return mapWriteErr(err, "bind permission")
	}
	return nil
}

func (r *RBACRepository) AssignRole(ctx context.Context, userID, tenantID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_tenant_roles (user_id, tenant_id, role_id)
		VALUES ($1, $2, $3)
	`, userID, tenantID, roleID)
	if err != nil {
		return mapWriteErr(err, "assign role")
	}
	return nil
}

func (r *RBACRepository) UnassignRole(ctx context.Context, userID, tenantID, roleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_tenant_roles
		WHERE user_id = $1 AND tenant_id = $2 AND role_id = $3
	`, userID, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (r *RBACRepository) GrantPermission(ctx context.Context, userID, tenantID, permissionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_tenant_permissions (user_id, tenant_id, permission_id)
		VALUES ($1, $2, $3)
	`, userID, tenantID, permissionID)
	if err != nil {
		return mapWriteErr(err, "grant permission")
	}
	return nil
}
