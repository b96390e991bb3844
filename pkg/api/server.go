package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursehub/pkg/access"
	"github.com/platinummonkey/coursehub/pkg/attachments"
	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/catalog"
	"github.com/platinummonkey/coursehub/pkg/courses"
	"github.com/platinummonkey/coursehub/pkg/httputil"
	"github.com/platinummonkey/coursehub/pkg/middleware"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
	"github.com/platinummonkey/coursehub/pkg/users"
)

// Dependencies holds everything the server routes to
type Dependencies struct {
	Users   *users.Service
	Courses *courses.Service
	Access  *access.Engine
	Catalog *catalog.Assembler
	Blobs   storage.BlobStore
	Tokens  *auth.TokenManager
	Audit   audit.Logger

	// Limiter guards the credential endpoints. Nil disables rate limiting.
	Limiter middleware.Limiter

	Metrics        *observability.Metrics
	Logger         *observability.Logger
	MaxUploadBytes int64
	CORSOrigins    []string
}

// maxCredentialBodyBytes caps /login and /cadastro request bodies
const maxCredentialBodyBytes = 64 << 10

// Server is the HTTP API of the marketplace
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
}

// NewServer creates a server with all routes registered
func NewServer(deps Dependencies) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNoopLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(deps.CORSOrigins),
	)(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))

	userHandlers := users.NewHandlers(s.deps.Users)
	fileHandlers := attachments.NewHandlers(s.deps.Blobs, s.deps.Audit, s.deps.Logger, s.deps.MaxUploadBytes)

	// Credential endpoints
	credentials := s.router.NewRoute().Subrouter()
	credentials.Use(httputil.MaxBytesMiddleware(maxCredentialBodyBytes))
	if s.deps.Limiter != nil {
		credentials.Use(middleware.NewRateLimitMiddleware(s.deps.Limiter, s.deps.Logger).Handler)
	}
	userHandlers.RegisterPublicRoutes(credentials)

	public := s.router.NewRoute().Subrouter()
	fileHandlers.RegisterPublicRoutes(public)

	protected := s.router.NewRoute().Subrouter()
	protected.Use(middleware.NewAuthMiddleware(s.deps.Tokens, false).Handler)
	userHandlers.RegisterRoutes(protected)
	fileHandlers.RegisterRoutes(protected)
	courses.NewHandlers(s.deps.Courses, s.deps.MaxUploadBytes).RegisterRoutes(protected)
	access.NewHandlers(s.deps.Access).RegisterRoutes(protected)
	catalog.NewHandlers(s.deps.Catalog).RegisterRoutes(protected)
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
