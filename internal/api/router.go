package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clavis-id/clavis/internal/api/middleware"
	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/auth"
	"github.com/clavis-id/clavis/internal/authz"
	"github.com/clavis-id/clavis/internal/config"
)

// Server owns the router and the handler graph.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
}

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Config   *config.Config
	Auth     *auth.Service
	Tokens   auth.TokenProvider
	Resolver *authz.Resolver
	Admin    RBACAdmin
	AuditRd  audit.Reader
	Journal  audit.Recorder
	Logger   *slog.Logger
}

// NewServer assembles the middleware stack and the route table.
func NewServer(deps Deps) *Server {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// Sentry before recovery so panics propagate into it.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicRecovery)

	if len(deps.Config.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.Config.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept", "Authorization", "Content-Type",
				"X-Device-Posture", "X-Geo-Country", "X-Risk-Level",
				"X-Membership-Tier", "X-Department", "X-Dual-Approval",
			},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	ipLimiter := middleware.NewIPRateLimiter(20, 40)
	r.Use(ipLimiter.Middleware)

	requireAuth := middleware.RequireAuth(deps.Tokens)
	contracts := middleware.NewContracts(deps.Resolver, deps.Journal)

	authHandler := NewAuthHandler(deps.Auth, deps.Logger)
	adminHandler := NewAdminHandler(deps.Admin, deps.Resolver, deps.AuditRd, deps.Journal, deps.Logger)

	server := &Server{Router: r, Logger: deps.Logger}

	r.Get("/health", server.HealthHandler())

	// Public surface.
	r.Post("/auth/login", authHandler.Login)
	r.Post("/auth/register", authHandler.Register)
	r.Post("/auth/refresh", authHandler.Refresh)
	r.Post("/auth/logout", authHandler.Logout)
	r.Get("/auth/validate", authHandler.Validate)
	r.Post("/auth/password/recover", authHandler.Recover)
	r.Post("/auth/password/reset", authHandler.Reset)
	r.Post("/auth/mfa/verify", authHandler.VerifyMFA)
	r.Post("/users/{userID}/verify-email", authHandler.VerifyEmail)

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/auth/password/change", authHandler.ChangePassword)
		r.Get("/auth/sessions", authHandler.ListSessions)
		r.Delete("/auth/sessions/{sessionID}", authHandler.RevokeSession)
		r.Post("/auth/mfa/setup", authHandler.SetupMFA)
		r.Post("/auth/mfa/activate", authHandler.ActivateMFA)
		r.Post("/auth/tenants/{tenantID}/switch", authHandler.SwitchTenant)
	})

	// Tenant-scoped surface: the token must claim the path tenant.
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(contracts.RequireTenant())

		r.With(
			contracts.RequirePermission("read", "audit"),
			contracts.RequireABAC("read", "audit"),
		).Get("/audit-events", adminHandler.ListAuditEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Use(contracts.RequireRoles("ADMIN", authz.SuperAdminRole))
			r.Use(contracts.Granted("admin surface"))

			r.Post("/roles", adminHandler.CreateRole)
			r.Post("/permissions", adminHandler.CreatePermission)
			r.Post("/policies", adminHandler.CreatePolicy)
			r.Post("/role-permissions", adminHandler.BindPermission)
			r.Post("/assignments", adminHandler.AssignRole)
			r.Delete("/assignments/{userID}/{roleID}", adminHandler.UnassignRole)
			r.Post("/grants", adminHandler.GrantPermission)
		})
	})

	return server
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
