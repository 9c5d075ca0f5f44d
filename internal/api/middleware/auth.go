package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/clavis-id/clavis/internal/api/helpers"
	"github.com/clavis-id/clavis/internal/auth"
)

// AccessVerifier is the slice of the token provider the gate needs.
type AccessVerifier interface {
	VerifyAccess(token string) (*auth.AccessClaims, error)
}

// ExtractBearer pulls the credential out of the Authorization header.
func ExtractBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// RequireAuth verifies the bearer access token and populates the security
// context. The signed claim set is authoritative for the request; roles are
// not re-resolved per call.
func RequireAuth(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearer(r)
			if !ok {
				helpers.RespondError(w, http.StatusUnauthorized, "missing_credential", "authorization header required")
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				reason := string(auth.ReasonOf(err))
				slog.Warn("token_rejected", "reason", reason, "ip", helpers.GetRealIP(r))
				helpers.RespondError(w, http.StatusUnauthorized, reason, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
