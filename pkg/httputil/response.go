package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Kind: string(domain.KindInvalidInput)})
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: message, Kind: string(domain.KindUnauthorized)})
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: message, Kind: string(domain.KindForbidden)})
}

// WriteNotFoundError writes a not found error response (404)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Kind: string(domain.KindNotFound)})
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a 500 without leaking the cause to the client
func WriteInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Kind: string(domain.KindStorageFailure)})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidReference:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err using its kind. Storage failures that carry a
// backend cause are reported as 503. The cause itself is never sent to the
// client.
func WriteDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)

	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}

	if kind == domain.KindStorageFailure {
		if de != nil && de.Err != nil {
			status = http.StatusServiceUnavailable
		}
		message = "storage unavailable"
	}

	WriteJSON(w, status, ErrorResponse{Error: message, Kind: string(kind)})
}
