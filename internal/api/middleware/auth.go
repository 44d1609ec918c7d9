package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/security"
)

type contextKey string

const principalKey contextKey = "principal"

// AuthMiddleware resolves the caller through the identity verifier
type AuthMiddleware struct {
	verifier domain.IdentityVerifier
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier domain.IdentityVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the bearer token and stores the principal in the
// request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Error(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token, ok := security.BearerToken(authHeader)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		principal, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected credential")
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), *principal)))
	})
}

// RequireOperator rejects authenticated callers that are not operators
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !p.Role.IsOperator() {
			response.Forbidden(w, "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal gets the authenticated principal from context
func GetPrincipal(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}
