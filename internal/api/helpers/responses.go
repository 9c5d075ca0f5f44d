package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clavis-id/clavis/internal/apperr"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

// RespondError writes a JSON error body.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// RespondAppError maps the error taxonomy to HTTP statuses. The API layer
// is the single place this conversion happens.
func RespondAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	code := apperr.CodeOf(err)

	switch kind {
	case apperr.KindValidation:
		RespondError(w, http.StatusBadRequest, code, apperr.MessageOf(err))
	case apperr.KindAuthentication:
		RespondError(w, http.StatusUnauthorized, code, "authentication failed")
	case apperr.KindAuthorization:
		RespondError(w, http.StatusForbidden, code, "forbidden")
	case apperr.KindConflict:
		RespondError(w, http.StatusConflict, code, apperr.MessageOf(err))
	case apperr.KindNotFound:
		RespondError(w, http.StatusNotFound, code, "not found")
	case apperr.KindRateLimited:
		w.Header().Set("Retry-After", "60")
		RespondError(w, http.StatusTooManyRequests, code, "too many requests")
	case apperr.KindUpstream:
		slog.Error("upstream_failure", "error", err)
		RespondError(w, http.StatusServiceUnavailable, code, "service unavailable")
	default:
		// Internal and untagged errors leak nothing.
		slog.Error("internal_failure", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
