package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "empty body",
			body:        ``,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{invalid}`))
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		vars        map[string]string
		expected    int64
		expectError bool
	}{
		{"valid id", map[string]string{"courseId": "9007199254740993"}, 9007199254740993, false},
		{"missing", map[string]string{}, 0, true},
		{"not a number", map[string]string{"courseId": "abc"}, 0, true},
		{"zero", map[string]string{"courseId": "0"}, 0, true},
		{"negative", map[string]string{"courseId": "-4"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), tt.vars)

			val, err := ParsePathInt64(req, "courseId")

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, val)
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), map[string]string{"userId": "x"})

	_, ok := ParsePathInt64OrError(w, req, "userId")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathStringOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest("GET", "/files/a", nil), map[string]string{"handle": "uploads/a.pdf"})

	val, ok := ParsePathStringOrError(w, req, "handle")
	assert.True(t, ok)
	assert.Equal(t, "uploads/a.pdf", val)

	_, ok = ParsePathStringOrError(w, httptest.NewRequest("GET", "/files/", nil), "handle")
	assert.False(t, ok)
}

func TestParseFormInt64(t *testing.T) {
	form := url.Values{"sellerId": {"12"}, "bad": {"x"}}
	req := httptest.NewRequest("POST", "/test", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	val, err := ParseFormInt64(req, "sellerId")
	assert.NoError(t, err)
	assert.Equal(t, int64(12), val)

	val, err = ParseFormInt64(req, "missing")
	assert.NoError(t, err)
	assert.Zero(t, val)

	_, err = ParseFormInt64(req, "bad")
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "   ", "name"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")

	assert.True(t, RequireNonEmpty(httptest.NewRecorder(), "Go 101", "name"))
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, RequirePositive(w, 0, "userId"))
	assert.Contains(t, w.Body.String(), "userId must be positive")

	assert.True(t, RequirePositive(httptest.NewRecorder(), 3, "userId"))
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()

	ok := ValidateAll(w,
		func() (bool, string) { return true, "" },
		func() (bool, string) { return false, "first failure" },
		func() (bool, string) { return false, "second failure" },
	)

	assert.False(t, ok)
	assert.Contains(t, w.Body.String(), "first failure")
	assert.NotContains(t, w.Body.String(), "second failure")
}
