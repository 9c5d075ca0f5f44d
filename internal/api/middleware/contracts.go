package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/apperr"
	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/auth"
	"github.com/clavis-id/clavis/internal/authz"
)

// Contracts builds the per-endpoint enforcement middlewares: role checks,
// permission checks, ownership, tenant scoping, and ABAC evaluation. Each
// denial produces one audit event; endpoints that want a success event end
// their chain with Granted.
type Contracts struct {
	resolver *authz.Resolver
	journal  audit.Recorder
	now      func() time.Time
}

func NewContracts(resolver *authz.Resolver, journal audit.Recorder) *Contracts {
	return &Contracts{resolver: resolver, journal: journal, now: time.Now}
}

func (c *Contracts) decisionEvent(r *http.Request, claims *auth.AccessClaims, success bool, detail string) audit.Event {
	event := audit.Event{
		Action:       audit.ActionAccessDecision,
		ResourceType: "endpoint",
		ResourceID:   r.Method + " " + r.URL.Path,
		Details:      detail,
		IPAddress:    helpers.GetRealIP(r),
		UserAgent:    r.UserAgent(),
		Success:      success,
	}
	if claims != nil {
		if userID, err := claims.UserID(); err == nil {
			event.ActorID = &userID
		}
		event.SessionID = &claims.SessionID
		event.TenantID = claims.TenantID
	}
	if !success {
		event.ErrorMessage = detail
	}
	return event
}

func (c *Contracts) deny(w http.ResponseWriter, r *http.Request, claims *auth.AccessClaims, code, detail string) {
	c.journal.Record(r.Context(), c.decisionEvent(r, claims, false, detail))
	helpers.RespondError(w, http.StatusForbidden, code, "forbidden")
}

// RequireRoles rejects unless the token claims at least one of the codes.
func (c *Contracts) RequireRoles(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
				return
			}
			for _, need := range codes {
				for _, have := range claims.Roles {
					if have == need {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			c.deny(w, r, claims, "missing_role", "required role not held")
		})
	}
}

// RequirePermission rejects unless "action:resource" is claimed.
func (c *Contracts) RequirePermission(action, resource string) func(http.Handler) http.Handler {
	key := action + ":" + resource
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
				return
			}
			for _, have := range claims.Permissions {
				if have == key {
					next.ServeHTTP(w, r)
					return
				}
			}
			c.deny(w, r, claims, "missing_permission", "required permission not held: "+key)
		})
	}
}

// RequireOwnershipOrRoles allows when the authenticated subject matches the
// path parameter, or when a role check passes.
func (c *Contracts) RequireOwnershipOrRoles(param string, codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
				return
			}
			if subject, err := claims.UserID(); err == nil {
				if pathID, err := uuid.Parse(chi.URLParam(r, param)); err == nil && pathID == subject {
					next.ServeHTTP(w, r)
					return
				}
			}
			for _, need := range codes {
				if claimsRole(claims, need) {
					next.ServeHTTP(w, r)
					return
				}
			}
			c.deny(w, r, claims, "not_owner", "caller is neither owner nor privileged")
		})
	}
}

func claimsRole(claims *auth.AccessClaims, code string) bool {
	for _, have := range claims.Roles {
		if have == code {
			return true
		}
	}
	return false
}

// RequireTenant scopes a route subtree to the path tenant: the token must
// claim that tenant (or the super-admin bootstrap role). The audit trail
// records the missing tenant claim on refusal.
func (c *Contracts) RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
				return
			}
			tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
			if err != nil {
				helpers.RespondError(w, http.StatusBadRequest, "bad_tenant_id", "invalid tenant id")
				return
			}
			if claimsRole(claims, authz.SuperAdminRole) {
				next.ServeHTTP(w, r)
				return
			}
			if claims.TenantID == nil || *claims.TenantID != tenantID {
				c.deny(w, r, claims, "tenant_mismatch", "token does not claim tenant "+tenantID.String())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireABAC builds the request context, loads the principal's policy set,
// and evaluates the decision. DENY surfaces the deciding policy's code.
func (c *Contracts) RequireABAC(action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "malformed", "invalid subject")
				return
			}

			tenantID := claims.TenantID
			if pathID, perr := uuid.Parse(chi.URLParam(r, "tenantID")); perr == nil {
				tenantID = &pathID
			}
			if tenantID == nil {
				c.deny(w, r, claims, "tenant_required", "no tenant in path or claim")
				return
			}

			snapshot, err := c.resolver.Resolve(r.Context(), userID, tenantID)
			if err != nil {
				helpers.RespondAppError(w, apperr.Wrap(apperr.KindUpstream, "resolver", "principal resolution failed", err))
				return
			}

			rctx := c.buildContext(r, claims, userID, *tenantID)
			decision := authz.Evaluate(rctx, action, resource, snapshot.Policies)
			if !decision.Allowed {
				detail := decision.PolicyCode
				if detail == "" {
					detail = decision.Reason
				}
				c.journal.Record(r.Context(), c.decisionEvent(r, claims, false, "abac deny: "+detail))
				helpers.RespondError(w, http.StatusForbidden, detail, "forbidden by policy")
				return
			}

			c.journal.Record(r.Context(), c.decisionEvent(r, claims, true, "abac allow: "+decision.PolicyCode))
			next.ServeHTTP(w, r)
		})
	}
}

// buildContext assembles the flat attribute map the evaluator consumes.
// The well-known attributes come from the connection and the verified
// claims; posture-style attributes arrive as request headers stamped by
// the edge.
func (c *Contracts) buildContext(r *http.Request, claims *auth.AccessClaims, userID, tenantID uuid.UUID) authz.RequestContext {
	rctx := authz.RequestContext{
		authz.CtxClientIP:   helpers.GetRealIP(r),
		authz.CtxTimestamp:  c.now(),
		authz.CtxTenantID:   tenantID.String(),
		authz.CtxUserID:     userID.String(),
		authz.CtxMFAPresent: claims.MFAPresent,
	}

	headerAttrs := map[string]string{
		authz.CtxDevicePosture:  "X-Device-Posture",
		authz.CtxGeo:            "X-Geo-Country",
		authz.CtxRiskLevel:      "X-Risk-Level",
		authz.CtxMembershipTier: "X-Membership-Tier",
		authz.CtxDepartment:     "X-Department",
	}
	for key, header := range headerAttrs {
		if value := r.Header.Get(header); value != "" {
			rctx[key] = value
		}
	}
	if r.Header.Get("X-Dual-Approval") == "true" {
		rctx[authz.CtxDualApproval] = true
	}

	return rctx
}

// Granted terminates a contract chain with the successful decision event
// for endpoints that do not run ABAC.
func (c *Contracts) Granted(detail string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := GetClaims(r.Context())
			c.journal.Record(r.Context(), c.decisionEvent(r, claims, true, detail))
			next.ServeHTTP(w, r)
		})
	}
}
