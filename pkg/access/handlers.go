package access

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/httputil"
)

const (
	ActionGrant  = "grant"
	ActionRevoke = "revoke"
)

// Handlers exposes the engine over HTTP. Every route expects an
// authenticated subject in the request context.
type Handlers struct {
	engine *Engine
	store  Store
}

// NewHandlers creates access handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine, store: engine.store}
}

// RegisterRoutes registers the access routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/produtos/{courseId}/access", h.ChangeAccess).Methods("POST")
	router.HandleFunc("/produtos/{courseId}/module-access", h.SetModuleAccess).Methods("POST")
	router.HandleFunc("/produtos/{courseId}/module-access/{userId}", h.GetModuleAccess).Methods("GET")
	router.HandleFunc("/produtos/{courseId}/users", h.ListCourseUsers).Methods("GET")
}

// ChangeAccessRequest grants or revokes one module, or the whole course when ModuleID is nil
type ChangeAccessRequest struct {
	UserID   int64  `json:"userId"`
	Action   string `json:"action"`
	ModuleID *int64 `json:"moduleId,omitempty"`
}

// SetModuleAccessRequest replaces the user's module grants on a course
type SetModuleAccessRequest struct {
	UserID       int64   `json:"userId"`
	ModuleAccess []int64 `json:"moduleAccess"`
}

// ownedCourse loads the course and checks the caller owns it
func (h *Handlers) ownedCourse(r *http.Request, op string, courseID int64) (*domain.Course, error) {
	subject, err := auth.RequireSubject(r.Context(), op)
	if err != nil {
		return nil, err
	}
	course, err := h.store.GetCourse(r.Context(), courseID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwner(subject, course.SellerID, op); err != nil {
		return nil, err
	}
	return course, nil
}

// ChangeAccess handles POST /produtos/{courseId}/access
func (h *Handlers) ChangeAccess(w http.ResponseWriter, r *http.Request) {
	const op = "access.ChangeAccess"
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}

	var req ChangeAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "userId") {
		return
	}
	if req.Action != ActionGrant && req.Action != ActionRevoke {
		httputil.WriteBadRequest(w, "action must be \"grant\" or \"revoke\"")
		return
	}

	if _, err := h.ownedCourse(r, op, courseID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	ctx := r.Context()
	resp := map[string]interface{}{
		"message":  "access updated",
		"userId":   req.UserID,
		"courseId": courseID,
		"action":   req.Action,
	}

	if req.ModuleID == nil {
		var err error
		if req.Action == ActionGrant {
			err = h.engine.GrantCourseAccess(ctx, req.UserID, courseID)
		} else {
			err = h.engine.RevokeCourseAccess(ctx, req.UserID, courseID)
		}
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
		httputil.WriteSuccess(w, resp)
		return
	}

	moduleID := *req.ModuleID
	module, err := h.store.GetModule(ctx, moduleID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if module.CourseID != courseID {
		httputil.WriteDomainError(w, domain.E(domain.KindInvalidReference, op, "module %d does not belong to course %d", moduleID, courseID))
		return
	}

	var changed bool
	if req.Action == ActionGrant {
		changed, err = h.engine.GrantModuleAccess(ctx, req.UserID, moduleID)
	} else {
		changed, err = h.engine.RevokeModuleAccess(ctx, req.UserID, moduleID)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	resp["moduleId"] = moduleID
	resp["changed"] = changed
	httputil.WriteSuccess(w, resp)
}

// SetModuleAccess handles POST /produtos/{courseId}/module-access
func (h *Handlers) SetModuleAccess(w http.ResponseWriter, r *http.Request) {
	const op = "access.SetModuleAccess"
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}

	var req SetModuleAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "userId") {
		return
	}

	if _, err := h.ownedCourse(r, op, courseID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	if err := h.engine.SetModuleAccessForCourse(r.Context(), req.UserID, courseID, req.ModuleAccess); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	ids, err := h.engine.ListModuleAccess(r.Context(), req.UserID, courseID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message":   "module access updated",
		"moduleIds": ids,
	})
}

// GetModuleAccess handles GET /produtos/{courseId}/module-access/{userId}.
// The course owner may read anyone's grants; other users only their own.
func (h *Handlers) GetModuleAccess(w http.ResponseWriter, r *http.Request) {
	const op = "access.GetModuleAccess"
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	subject, err := auth.RequireSubject(r.Context(), op)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	course, err := h.store.GetCourse(r.Context(), courseID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if subject.UserID != userID {
		if err := auth.RequireOwner(subject, course.SellerID, op); err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
	}

	ids, err := h.engine.ListModuleAccess(r.Context(), userID, courseID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"moduleIds": ids})
}

// ListCourseUsers handles GET /produtos/{courseId}/users
func (h *Handlers) ListCourseUsers(w http.ResponseWriter, r *http.Request) {
	const op = "access.ListCourseUsers"
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	if _, err := h.ownedCourse(r, op, courseID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	ids, err := h.engine.ListUsersWithCourseAccess(r.Context(), courseID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	users, err := h.store.GetUsersByIDs(r.Context(), ids)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": out})
}
