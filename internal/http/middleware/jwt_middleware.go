package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/platform/auth"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/metrics"
)

type ctxKey string

const ctxIdentity ctxKey = "identity"

const (
	msgMissingToken = "missing authorization token"
	msgInvalidToken = "invalid or expired token"
)

type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's identity on the request context.
func RequireAuth(verifier TokenVerifier, m *metrics.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				m.TokenRejected("missing")
				response.WriteError(w, http.StatusUnauthorized, msgMissingToken, response.CodeMissingToken)
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				m.TokenRejected("invalid")
				logger.DebugContext(r.Context(), "Token rejected", "error", err)
				response.WriteError(w, http.StatusUnauthorized, msgInvalidToken, response.CodeInvalidToken)
				return
			}

			id := claims.Identity()
			ctx := context.WithValue(r.Context(), ctxIdentity, id)
			ctx = logger.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				response.WriteError(w, http.StatusUnauthorized, msgMissingToken, response.CodeMissingToken)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Forbidden(w, "insufficient role")
		})
	}
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(domain.Identity)
	return id, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
