package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/api/middleware"
)

type sessionResponse struct {
	ID        uuid.UUID `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

// ListSessions handles GET /auth/sessions: the caller's live sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "malformed", "invalid subject")
		return
	}

	sessions, err := h.svc.Sessions(r.Context(), userID)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == claims.SessionID,
		})
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// RevokeSession handles DELETE /auth/sessions/{sessionID}; owner only.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authentication required")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "bad_session_id", "invalid session id")
		return
	}

	if err := h.svc.RevokeSession(r.Context(), userID, sessionID, requestMeta(r)); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusNoContent, nil)
}
