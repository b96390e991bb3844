package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/httputil"
)

// AuthMiddleware resolves the bearer token into an auth.Subject
type AuthMiddleware struct {
	tokens   *auth.TokenManager
	optional bool // If true, allow requests without a token
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *auth.TokenManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteDomainError(w, domain.E(domain.KindUnauthorized, "middleware.Auth", "missing authorization header"))
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteDomainError(w, domain.E(domain.KindUnauthorized, "middleware.Auth", "invalid authorization header format"))
			return
		}

		subject, err := m.tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), subject)))
	})
}

// GetSubject returns the authenticated subject of r, or nil
func GetSubject(r *http.Request) *auth.Subject {
	subject, _ := auth.SubjectFromContext(r.Context())
	return subject
}

// RequireRole rejects requests whose subject does not have role
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := GetSubject(r)
			if subject == nil {
				httputil.WriteDomainError(w, domain.E(domain.KindUnauthorized, "middleware.RequireRole", "authentication required"))
				return
			}
			if !subject.HasRole(role) {
				httputil.WriteDomainError(w, domain.E(domain.KindForbidden, "middleware.RequireRole", "role %s required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
