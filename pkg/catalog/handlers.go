package catalog

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/httputil"
)

// Handlers serves the catalog views
type Handlers struct {
	assembler *Assembler
}

// NewHandlers creates catalog handlers
func NewHandlers(assembler *Assembler) *Handlers {
	return &Handlers{assembler: assembler}
}

// RegisterRoutes registers catalog routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/cursos", h.ListCatalog).Methods("GET")
	router.HandleFunc("/product/{id}", h.GetCourseDetail).Methods("GET")
}

// ListCatalog handles GET /cursos
func (h *Handlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	subject, err := auth.RequireSubject(r.Context(), "catalog.ListCatalog")
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	catalog, err := h.assembler.ListCatalog(r.Context(), subject.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, catalog)
}

// GetCourseDetail handles GET /product/{id}
func (h *Handlers) GetCourseDetail(w http.ResponseWriter, r *http.Request) {
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	subject, err := auth.RequireSubject(r.Context(), "catalog.GetCourseDetail")
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	detail, err := h.assembler.GetCourseDetail(r.Context(), courseID, subject.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, detail)
}
