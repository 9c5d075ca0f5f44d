package api

import (
	"net/http"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/api/middleware"
	"github.com/clavis-id/clavis/internal/auth"
)

// SetupMFA handles POST /auth/mfa/setup: generates a TOTP secret for the
// authenticated user. Nothing is stored until activation.
func (h *AuthHandler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}

	secret, url, err := h.svc.SetupMFA(r.Context(), userID)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"secret":           secret,
		"provisioning_url": url,
	})
}

type mfaActivateRequest struct {
	Secret string `json:"secret" validate:"required"`
	Code   string `json:"code" validate:"required,len=6"`
}

// ActivateMFA handles POST /auth/mfa/activate.
func (h *AuthHandler) ActivateMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}

	var req mfaActivateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.svc.ActivateMFA(r.Context(), userID, req.Secret, req.Code); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}

type mfaVerifyRequest struct {
	PreAuthToken string `json:"pre_auth_token" validate:"required"`
	Code         string `json:"code" validate:"required,len=6"`
}

// VerifyMFA handles POST /auth/mfa/verify: the second login leg.
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.svc.VerifyLoginMFA(r.Context(), req.PreAuthToken, req.Code, auth.RequestMeta{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponseFrom(res))
}
