package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/auth"
	"github.com/clavis-id/clavis/internal/authz"
)

type stubAuthzStore struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*authz.Snapshot
}

func (s *stubAuthzStore) ResolveTenant(ctx context.Context, userID, tenantID uuid.UUID) (*authz.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[tenantID]; ok {
		return snap, nil
	}
	return &authz.Snapshot{}, nil
}

func (s *stubAuthzStore) ResolveAnchored(ctx context.Context, userID uuid.UUID, landlordID *uuid.UUID) (*authz.Snapshot, error) {
	return &authz.Snapshot{}, nil
}

type stubRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *stubRecorder) Record(ctx context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *stubRecorder) last() *audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	e := s.events[len(s.events)-1]
	return &e
}

const gateSecret = "gate-test-secret-0123456789abcdef!!"

func gateProvider(t *testing.T) *auth.HMACProvider {
	t.Helper()
	p, err := auth.NewHMACProvider(gateSecret, "clavis-test", time.Hour, time.Hour)
	require.NoError(t, err)
	return p
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func mintAccess(t *testing.T, p *auth.HMACProvider, tenantID *uuid.UUID, roles, perms []string, mfa bool) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := p.MintAccess(userID, uuid.New(), tenantID, roles, perms, mfa)
	require.NoError(t, err)
	return token, userID
}

func TestRequireAuth(t *testing.T) {
	p := gateProvider(t)
	handler := RequireAuth(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"USER"}, claims.Roles)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, string(auth.ReasonMalformed), body["code"])
	})

	t.Run("refresh token where access required", func(t *testing.T) {
		refresh, err := p.MintRefresh(uuid.New(), uuid.New(), "secret", false)
		require.NoError(t, err)
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+refresh)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, string(auth.ReasonWrongType), body["code"])
	})

	t.Run("valid token", func(t *testing.T) {
		token, _ := mintAccess(t, p, nil, []string{"USER"}, nil, false)
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func newContractRouter(t *testing.T, p *auth.HMACProvider, store *stubAuthzStore, recorder *stubRecorder, mount func(chi.Router, *Contracts)) http.Handler {
	t.Helper()
	contracts := NewContracts(authz.NewResolver(store), recorder)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(p))
		mount(r, contracts)
	})
	return r
}

func doGet(handler http.Handler, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.RemoteAddr = "198.51.100.5:4444"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRequireRoles(t *testing.T) {
	p := gateProvider(t)
	recorder := &stubRecorder{}
	router := newContractRouter(t, p, &stubAuthzStore{}, recorder, func(r chi.Router, c *Contracts) {
		r.With(c.RequireRoles("ADMIN", authz.SuperAdminRole)).Get("/admin", okHandler())
	})

	token, _ := mintAccess(t, p, nil, []string{"USER"}, nil, false)
	rr := doGet(router, "/admin", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	require.NotNil(t, recorder.last())
	assert.False(t, recorder.last().Success)

	token, _ = mintAccess(t, p, nil, []string{"ADMIN"}, nil, false)
	rr = doGet(router, "/admin", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequirePermission(t *testing.T) {
	p := gateProvider(t)
	recorder := &stubRecorder{}
	router := newContractRouter(t, p, &stubAuthzStore{}, recorder, func(r chi.Router, c *Contracts) {
		r.With(c.RequirePermission("read", "reports")).Get("/reports", okHandler())
	})

	token, _ := mintAccess(t, p, nil, nil, []string{"write:reports"}, false)
	rr := doGet(router, "/reports", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	token, _ = mintAccess(t, p, nil, nil, []string{"read:reports"}, false)
	rr = doGet(router, "/reports", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireOwnershipOrRoles(t *testing.T) {
	p := gateProvider(t)
	recorder := &stubRecorder{}
	router := newContractRouter(t, p, &stubAuthzStore{}, recorder, func(r chi.Router, c *Contracts) {
		r.With(c.RequireOwnershipOrRoles("userID", "ADMIN")).Get("/users/{userID}/profile", okHandler())
	})

	token, userID := mintAccess(t, p, nil, []string{"USER"}, nil, false)

	// Own resource passes.
	rr := doGet(router, "/users/"+userID.String()+"/profile", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Someone else's resource does not.
	rr = doGet(router, "/users/"+uuid.NewString()+"/profile", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Unless the caller holds the privileged role.
	adminToken, _ := mintAccess(t, p, nil, []string{"ADMIN"}, nil, false)
	rr = doGet(router, "/users/"+uuid.NewString()+"/profile", adminToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireTenant(t *testing.T) {
	p := gateProvider(t)
	recorder := &stubRecorder{}
	router := newContractRouter(t, p, &stubAuthzStore{}, recorder, func(r chi.Router, c *Contracts) {
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(c.RequireTenant())
			r.Get("/things", okHandler())
		})
	})

	t1, t2 := uuid.New(), uuid.New()
	token, _ := mintAccess(t, p, &t1, []string{"ADMIN"}, nil, false)

	// The claimed tenant passes.
	rr := doGet(router, "/tenants/"+t1.String()+"/things", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Another tenant is refused, and the journal records the missing claim.
	rr = doGet(router, "/tenants/"+t2.String()+"/things", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	last := recorder.last()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	assert.Contains(t, last.ErrorMessage, t2.String())

	// A token with no tenant claim is refused too.
	bare, _ := mintAccess(t, p, nil, []string{"USER"}, nil, false)
	rr = doGet(router, "/tenants/"+t1.String()+"/things", bare, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// The super-admin bootstrap role crosses tenants.
	super, _ := mintAccess(t, p, nil, []string{authz.SuperAdminRole}, nil, false)
	rr = doGet(router, "/tenants/"+t2.String()+"/things", super, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireABAC(t *testing.T) {
	p := gateProvider(t)
	tenantID := uuid.New()

	policies := []authz.Policy{
		authz.RawPolicy{
			ID: uuid.New(), TenantID: tenantID, Code: "finance-team",
			Effect: authz.EffectAllow, Actions: []string{"read"}, Resources: []string{"reports"},
			Condition: json.RawMessage(`{}`),
		}.Parse(),
		authz.RawPolicy{
			ID: uuid.New(), TenantID: tenantID, Code: "off-network",
			Effect: authz.EffectDeny, Actions: []string{"read"}, Resources: []string{"reports"},
			Condition: json.RawMessage(`{"allowed_ip_ranges": ["203.0.113.0/24"]}`),
		}.Parse(),
	}
	store := &stubAuthzStore{snapshots: map[uuid.UUID]*authz.Snapshot{
		tenantID: {Roles: []string{"USER"}, Permissions: []string{"read:reports"}, Policies: policies, Active: true},
	}}

	recorder := &stubRecorder{}
	router := newContractRouter(t, p, store, recorder, func(r chi.Router, c *Contracts) {
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(c.RequireTenant())
			r.With(
				c.RequirePermission("read", "reports"),
				c.RequireABAC("read", "reports"),
			).Get("/reports", okHandler())
		})
	})

	token, _ := mintAccess(t, p, &tenantID, []string{"USER"}, []string{"read:reports"}, false)
	path := "/tenants/" + tenantID.String() + "/reports"

	// Off the corporate network: the DENY policy fires and its code is the
	// response code.
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.RemoteAddr = "198.51.100.5:1234"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "off-network", body["code"])

	last := recorder.last()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	assert.Contains(t, last.Details, "off-network")

	// On the corporate network: allowed, with a success decision event.
	req = httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.RemoteAddr = "203.0.113.10:1234"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	last = recorder.last()
	require.NotNil(t, last)
	assert.True(t, last.Success)
	assert.Contains(t, last.Details, "finance-team")
}

func TestRequireABACMFAPredicate(t *testing.T) {
	p := gateProvider(t)
	tenantID := uuid.New()

	policies := []authz.Policy{
		authz.RawPolicy{
			ID: uuid.New(), TenantID: tenantID, Code: "mfa-required",
			Effect: authz.EffectAllow, Actions: []string{"*"}, Resources: []string{"*"},
			Condition: json.RawMessage(`{"mfa_required": true}`),
		}.Parse(),
	}
	store := &stubAuthzStore{snapshots: map[uuid.UUID]*authz.Snapshot{
		tenantID: {Active: true, Policies: policies},
	}}

	router := newContractRouter(t, p, store, &stubRecorder{}, func(r chi.Router, c *Contracts) {
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.With(c.RequireABAC("write", "settings")).Get("/settings", okHandler())
		})
	})

	path := "/tenants/" + tenantID.String() + "/settings"

	// Without the MFA claim the condition fails.
	plain, _ := mintAccess(t, p, &tenantID, nil, nil, false)
	rr := doGet(router, path, plain, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Tokens minted through the MFA leg carry the claim and pass.
	strong, _ := mintAccess(t, p, &tenantID, nil, nil, true)
	rr = doGet(router, path, strong, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
