package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/api/middleware"
	"github.com/clavis-id/clavis/internal/auth"
)

// AuthHandler adapts the auth orchestrator to the HTTP surface.
type AuthHandler struct {
	svc      *auth.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
}

// decodeValid decodes and validates a request body in one step.
func (h *AuthHandler) decodeValid(w http.ResponseWriter, r *http.Request, req any) bool {
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

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	UserID       uuid.UUID `json:"user_id"`
	UserName     string    `json:"user_name"`
	UserEmail    string    `json:"user_email"`
	LoginTime    time.Time `json:"login_time"`
}

type mfaChallengeResponse struct {
	MFARequired  bool   `json:"mfa_required"`
	PreAuthToken string `json:"pre_auth_token"`
}

func loginResponseFrom(res *auth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.ExpiresIn,
		UserID:       res.User.ID,
		UserName:     res.User.Name,
		UserEmail:    res.User.Email,
		LoginTime:    time.Now().UTC(),
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Meta:     requestMeta(r),
	})
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	if res.MFARequired {
		helpers.RespondJSON(w, http.StatusOK, mfaChallengeResponse{
			MFARequired:  true,
			PreAuthToken: res.PreAuthToken,
		})
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponseFrom(res))
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Meta:     requestMeta(r),
	})
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, loginResponseFrom(res))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.svc.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponseFrom(res))
}

// Logout handles POST /auth/logout. The credential may be expired; the
// signature must still verify.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.ExtractBearer(r)
	if !ok {
		helpers.RespondError(w, http.StatusBadRequest, "missing_credential", "bearer credential required")
		return
	}

	if err := h.svc.Logout(r.Context(), token, requestMeta(r)); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type validateResponse struct {
	Valid       bool       `json:"valid"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Validate handles GET /auth/validate. Always 200; failures carry
// valid=false and nothing else.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.ExtractBearer(r)
	if !ok {
		helpers.RespondJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}

	claims, err := h.svc.ValidateAccess(token)
	if err != nil {
		helpers.RespondJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}

	userID, err := claims.UserID()
	if err != nil {
		helpers.RespondJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}
	expiresAt := claims.ExpiresAt.Time
	helpers.RespondJSON(w, http.StatusOK, validateResponse{
		Valid:       true,
		UserID:      &userID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		ExpiresAt:   &expiresAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}

	var req changePasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type recoverRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Recover handles POST /auth/password/recover. Always 204.
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email, requestMeta(r)); err != nil {
		// Internal failures are logged; the caller still learns nothing.
		h.logger.Error("reset_request_failed", "error", err)
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type resetRequest struct {
	ResetToken  string `json:"reset_token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Reset handles POST /auth/password/reset.
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.svc.ConfirmPasswordReset(r.Context(), req.ResetToken, req.NewPassword, requestMeta(r)); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyEmail handles POST /users/{userID}/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_user_id", "invalid user id")
		return
	}

	var req verifyEmailRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	verifiedAt, err := h.svc.VerifyEmail(r.Context(), userID, req.Token)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"verified":    true,
		"verified_at": verifiedAt,
	})
}

type switchTenantResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SwitchTenant handles POST /auth/tenants/{tenantID}/switch: it exchanges
// the current access token for one scoped to the tenant.
func (h *AuthHandler) SwitchTenant(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_tenant_id", "invalid tenant id")
		return
	}

	access, expiresIn, err := h.svc.SwitchTenant(r.Context(), claims, tenantID, requestMeta(r))
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, switchTenantResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	})
}
