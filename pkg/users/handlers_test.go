package users

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
)

func newTestRouter(f *fixture) *mux.Router {
	router := mux.NewRouter()
	h := NewHandlers(f.service)
	h.RegisterPublicRoutes(router)
	h.RegisterRoutes(router)
	return router
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest("POST", path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router http.Handler, path string, subject *auth.Subject) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if subject != nil {
		req = req.WithContext(auth.WithSubject(context.Background(), subject))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	w := post(t, router, "/cadastro", map[string]interface{}{
		"name": "Ana", "email": "ana@example.com", "password": "secret123", "role": "VENDEDOR",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var registered struct {
		Message string  `json:"message"`
		Token   string  `json:"token"`
		User    Profile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	assert.NotEmpty(t, registered.Message)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, domain.RoleSeller, registered.User.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = post(t, router, "/cadastro", map[string]interface{}{
		"name": "Ana", "email": "ana@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = post(t, router, "/login", map[string]interface{}{"email": "ana@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = post(t, router, "/login", map[string]interface{}{"email": "ana@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(t, router, "/login", map[string]interface{}{"email": "ghost@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_Me(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	session := f.register(t, "ana@example.com", domain.RoleUser)

	w := get(router, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(router, "/me", &auth.Subject{UserID: session.User.ID, Role: domain.RoleUser})
	require.Equal(t, http.StatusOK, w.Code)

	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "ana@example.com", profile["email"])
	assert.Equal(t, []interface{}{}, profile["accessibleCourseIds"])
}

func TestHandlers_ListUsers(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	session := f.register(t, "ana@example.com", domain.RoleUser)

	w := get(router, "/listar-usuarios", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(router, "/listar-usuarios", &auth.Subject{UserID: session.User.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "$2a$")

	var users []Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 1)
}
