package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/api/middleware"
	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/authz"
)

// RBACAdmin is the administrative write surface on the RBAC tables.
type RBACAdmin interface {
	CreateRole(ctx context.Context, role *authz.Role) error
	CreatePermission(ctx context.Context, perm *authz.Permission) error
	CreatePolicy(ctx context.Context, policy *authz.RawPolicy) error
	BindPermission(ctx context.Context, roleID, permissionID uuid.UUID, policyID *uuid.UUID) error
	AssignRole(ctx context.Context, userID, tenantID, roleID uuid.UUID) error
	UnassignRole(ctx context.Context, userID, tenantID, roleID uuid.UUID) error
	GrantPermission(ctx context.Context, userID, tenantID, permissionID uuid.UUID) error
}

// AdminHandler exposes the minimal management surface: enough to provision
// roles, permissions, policies, and assignments, and to read the tenant's
// audit trail. Every write invalidates the resolver cache write-through.
type AdminHandler struct {
	admin    RBACAdmin
	resolver *authz.Resolver
	auditRd  audit.Reader
	journal  audit.Recorder
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAdminHandler(admin RBACAdmin, resolver *authz.Resolver, auditRd audit.Reader, journal audit.Recorder, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		resolver: resolver,
		auditRd:  auditRd,
		journal:  journal,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *AdminHandler) decodeValid(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := helpers.DecodeJSON(r, req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_json", err.Error())
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

func (h *AdminHandler) respondWriteErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrDuplicate):
		helpers.RespondError(w, http.StatusConflict, "duplicate", "entity already exists")
	case errors.Is(err, authz.ErrNotFound):
		helpers.RespondError(w, http.StatusBadRequest, "unknown_reference", "referenced entity does not exist")
	default:
		h.logger.Error("admin_write_failed", "error", err)
		helpers.RespondError(w, http.StatusServiceUnavailable, "store", "service unavailable")
	}
}

func (h *AdminHandler) auditWrite(r *http.Request, resourceType, resourceID string) {
	event := audit.Event{
		Action:       audit.ActionAdminWrite,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    helpers.GetRealIP(r),
		UserAgent:    r.UserAgent(),
		Success:      true,
	}
	if claims, err := middleware.GetClaims(r.Context()); err == nil {
		if userID, err := claims.UserID(); err == nil {
			event.ActorID = &userID
		}
		event.TenantID = claims.TenantID
	}
	h.journal.Record(r.Context(), event)
}

func pathTenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_tenant_id", "invalid tenant id")
		return uuid.Nil, false
	}
	return tenantID, true
}

type createRoleRequest struct {
	Code        string    `json:"code" validate:"required,max=100"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=1000"`
	LandlordID  uuid.UUID `json:"landlord_id" validate:"required"`
}

// CreateRole handles POST /tenants/{tenantID}/admin/roles.
func (h *AdminHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	role := &authz.Role{
		ID:          uuid.New(),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		LandlordID:  req.LandlordID,
	}
	if err := h.admin.CreateRole(r.Context(), role); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.InvalidateAll()
	h.auditWrite(r, "role", role.ID.String())
	helpers.RespondJSON(w, http.StatusCreated, role)
}

type createPermissionRequest struct {
	Action     string    `json:"action" validate:"required,max=100"`
	Resource   string    `json:"resource" validate:"required,max=100"`
	LandlordID uuid.UUID `json:"landlord_id" validate:"required"`
}

// CreatePermission handles POST /tenants/{tenantID}/admin/permissions.
func (h *AdminHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	perm := &authz.Permission{
		ID:         uuid.New(),
		Action:     req.Action,
		Resource:   req.Resource,
		LandlordID: req.LandlordID,
	}
	if err := h.admin.CreatePermission(r.Context(), perm); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.InvalidateAll()
	h.auditWrite(r, "permission", perm.Key())
	helpers.RespondJSON(w, http.StatusCreated, perm)
}

type createPolicyRequest struct {
	Code      string          `json:"code" validate:"required,max=100"`
	Name      string          `json:"name" validate:"max=200"`
	Effect    string          `json:"effect" validate:"required,oneof=ALLOW DENY"`
	Actions   []string        `json:"actions" validate:"required,min=1"`
	Resources []string        `json:"resources" validate:"required,min=1"`
	Condition json.RawMessage `json:"condition"`
}

// CreatePolicy handles POST /tenants/{tenantID}/admin/policies. The policy
// is owned by the path tenant.
func (h *AdminHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenant(w, r)
	if !ok {
		return
	}
	var req createPolicyRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	policy := &authz.RawPolicy{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Code:      req.Code,
		Name:      req.Name,
		Effect:    authz.Effect(req.Effect),
		Actions:   req.Actions,
		Resources: req.Resources,
		Condition: req.Condition,
	}
	if err := h.admin.CreatePolicy(r.Context(), policy); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.InvalidateAll()
	h.auditWrite(r, "policy", policy.ID.String())
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{"id": policy.ID, "code": policy.Code})
}

type bindPermissionRequest struct {
	RoleID       uuid.UUID  `json:"role_id" validate:"required"`
	PermissionID uuid.UUID  `json:"permission_id" validate:"required"`
	PolicyID     *uuid.UUID `json:"policy_id"`
}

// BindPermission handles POST /tenants/{tenantID}/admin/role-permissions.
func (h *AdminHandler) BindPermission(w http.ResponseWriter, r *http.Request) {
	var req bindPermissionRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.admin.BindPermission(r.Context(), req.RoleID, req.PermissionID, req.PolicyID); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.InvalidateAll()
	h.auditWrite(r, "role_permission", req.RoleID.String()+"/"+req.PermissionID.String())
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type assignRoleRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	RoleID uuid.UUID `json:"role_id" validate:"required"`
}

// AssignRole handles POST /tenants/{tenantID}/admin/assignments. The
// (user, tenant, role) triple is the only way a user acquires roles in a
// tenant.
func (h *AdminHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenant(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.admin.AssignRole(r.Context(), req.UserID, tenantID, req.RoleID); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.Invalidate(req.UserID, &tenantID)
	h.auditWrite(r, "assignment", req.UserID.String()+"/"+req.RoleID.String())
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

// UnassignRole handles DELETE /tenants/{tenantID}/admin/assignments/{userID}/{roleID}.
func (h *AdminHandler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenant(w, r)
	if !ok {
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_user_id", "invalid user id")
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_role_id", "invalid role id")
		return
	}

	if err := h.admin.UnassignRole(r.Context(), userID, tenantID, roleID); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			helpers.RespondError(w, http.StatusNotFound, "not_found", "assignment not found")
			return
		}
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.Invalidate(userID, &tenantID)
	h.auditWrite(r, "assignment", userID.String()+"/"+roleID.String())
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type grantPermissionRequest struct {
	UserID       uuid.UUID `json:"user_id" validate:"required"`
	PermissionID uuid.UUID `json:"permission_id" validate:"required"`
}

// GrantPermission handles POST /tenants/{tenantID}/admin/grants: a direct
// user-tenant-permission grant, additive with role-derived permissions.
func (h *AdminHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenant(w, r)
	if !ok {
		return
	}
	var req grantPermissionRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.admin.GrantPermission(r.Context(), req.UserID, tenantID, req.PermissionID); err != nil {
		h.respondWriteErr(w, err)
		return
	}

	h.resolver.Invalidate(req.UserID, &tenantID)
	h.auditWrite(r, "grant", req.UserID.String()+"/"+req.PermissionID.String())
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

// ListAuditEvents handles GET /tenants/{tenantID}/audit-events.
func (h *AdminHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenant(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.auditRd.ListByTenant(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("audit_list_failed", "error", err)
		helpers.RespondError(w, http.StatusServiceUnavailable, "store", "service unavailable")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"events": events})
}
