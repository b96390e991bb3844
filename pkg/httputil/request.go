package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid id for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParsePathStringOrError extracts a string path parameter and writes error on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	str := mux.Vars(r)[key]
	if str == "" {
		WriteBadRequest(w, fmt.Sprintf("missing path parameter: %s", key))
		return "", false
	}
	return str, true
}

// ParseFormInt64 parses an optional int64 form value
func ParseFormInt64(r *http.Request, key string) (int64, error) {
	str := strings.TrimSpace(r.FormValue(key))
	if str == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// RequireNonEmpty validates that a string field is not empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if strings.TrimSpace(value) == "" {
		WriteBadRequest(w, fmt.Sprintf("%s is required", fieldName))
		return false
	}
	return true
}

// RequirePositive validates that an id is positive
func RequirePositive(w http.ResponseWriter, value int64, fieldName string) bool {
	if value <= 0 {
		WriteBadRequest(w, fmt.Sprintf("%s must be positive", fieldName))
		return false
	}
	return true
}

// Validator is a function that validates a value and returns an error message if invalid
type Validator func() (bool, string)

// ValidateAll runs multiple validators and writes the first error
func ValidateAll(w http.ResponseWriter, validators ...Validator) bool {
	for _, validator := range validators {
		if valid, errMsg := validator(); !valid {
			WriteBadRequest(w, errMsg)
			return false
		}
	}
	return true
}
