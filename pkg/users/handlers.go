package users

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/httputil"
)

// Handlers exposes account routes
type Handlers struct {
	service *Service
}

// NewHandlers creates user handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterPublicRoutes registers the routes that issue tokens
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/cadastro", h.Register).Methods("POST")
	router.HandleFunc("/login", h.Login).Methods("POST")
}

// RegisterRoutes registers the routes that need a token
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods("GET")
	router.HandleFunc("/listar-usuarios", h.ListUsers).Methods("GET")
}

// Register handles POST /cadastro
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	session, err := h.service.Register(r.Context(), in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"message":   "user registered",
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      session.User,
	})
}

// Login handles POST /login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message":   "login successful",
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      session.User,
	})
}

// Me handles GET /me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	subject, err := auth.RequireSubject(r.Context(), "users.Me")
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	profile, err := h.service.Me(r.Context(), subject)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// ListUsers handles GET /listar-usuarios
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireSubject(r.Context(), "users.ListUsers"); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, users)
}
