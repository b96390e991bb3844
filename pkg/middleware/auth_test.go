package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
)

func newTokens() *auth.TokenManager {
	return auth.NewTokenManager(auth.TokenConfig{Secret: []byte("test-secret"), TTL: time.Hour})
}

// echoSubject writes the subject the middleware stored
func echoSubject() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := GetSubject(r)
		if subject == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(subject)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tokens := newTokens()
	valid, _, err := tokens.Issue(7, domain.RoleSeller)
	require.NoError(t, err)

	other := auth.NewTokenManager(auth.TokenConfig{Secret: []byte("other-secret")})
	forged, _, err := other.Issue(7, domain.RoleSeller)
	require.NoError(t, err)

	tests := []struct {
		name     string
		optional bool
		header   string
		status   int
	}{
		{name: "valid token", header: "Bearer " + valid, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, status: http.StatusOK},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "missing header optional", optional: true, status: http.StatusNoContent},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", status: http.StatusUnauthorized},
		{name: "no token", header: "Bearer", status: http.StatusUnauthorized},
		{name: "forged token", header: "Bearer " + forged, status: http.StatusUnauthorized},
		{name: "invalid token optional", optional: true, header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tokens, tt.optional).Handler(echoSubject())
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			if tt.status == http.StatusOK {
				var subject auth.Subject
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subject))
				assert.Equal(t, int64(7), subject.UserID)
				assert.Equal(t, domain.RoleSeller, subject.Role)
			}
			if tt.status == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, string(domain.KindUnauthorized), body["kind"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(domain.RoleSeller)(echoSubject())

	req := httptest.NewRequest("GET", "/produtos", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = req.WithContext(auth.WithSubject(req.Context(), &auth.Subject{UserID: 1, Role: domain.RoleUser}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = req.WithContext(auth.WithSubject(req.Context(), &auth.Subject{UserID: 1, Role: domain.RoleSeller}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
