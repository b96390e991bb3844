package courses

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/httputil"
)

// Handlers exposes course authoring over HTTP
type Handlers struct {
	service        *Service
	maxUploadBytes int64
}

// NewHandlers creates course handlers. maxUploadBytes bounds a multipart create request.
func NewHandlers(service *Service, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handlers{service: service, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers course routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/produtos", h.CreateCourse).Methods("POST")
	router.HandleFunc("/produtos", h.ListSellerCourses).Methods("GET")
	router.HandleFunc("/produtos/{courseId}", h.UpdateCourse).Methods("PUT")
	router.HandleFunc("/produtos/{courseId}", h.DeleteCourse).Methods("DELETE")

	router.HandleFunc("/produtos/{courseId}/modules", h.CreateModule).Methods("POST")
	router.HandleFunc("/produtos/{courseId}/modules/{moduleId}", h.UpdateModule).Methods("PUT")
	router.HandleFunc("/produtos/{courseId}/modules/{moduleId}", h.DeleteModule).Methods("DELETE")

	router.HandleFunc("/produtos/{courseId}/modules/{moduleId}/lessons", h.CreateLesson).Methods("POST")
	router.HandleFunc("/produtos/{courseId}/modules/{moduleId}/lessons/{lessonId}", h.UpdateLesson).Methods("PUT")
	router.HandleFunc("/produtos/{courseId}/modules/{moduleId}/lessons/{lessonId}", h.DeleteLesson).Methods("DELETE")
}

// subject returns the caller or writes 401
func subject(w http.ResponseWriter, r *http.Request, op string) (*auth.Subject, bool) {
	s, err := auth.RequireSubject(r.Context(), op)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return nil, false
	}
	return s, true
}

// CreateCourse handles POST /produtos with a JSON or multipart body
func (h *Handlers) CreateCourse(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.CreateCourse")
	if !ok {
		return
	}

	var (
		in      CourseInput
		uploads []Upload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		in, uploads, err = h.parseMultipart(w, r)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	} else if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	course, err := h.service.CreateCourse(r.Context(), caller, in, uploads)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"message": "course created",
		"product": course,
	})
}

func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) (CourseInput, []Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return CourseInput{}, nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	in := CourseInput{
		Name:        r.FormValue("name"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
	}

	var uploads []Upload
	for _, kind := range []string{KindImage, KindVideo, KindPDF} {
		file, header, err := r.FormFile(kind)
		if err == http.ErrMissingFile {
			continue
		}
		if err != nil {
			return in, nil, fmt.Errorf("invalid %s part: %w", kind, err)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return in, nil, fmt.Errorf("failed to read %s part: %w", kind, err)
		}
		uploads = append(uploads, Upload{
			Kind:        kind,
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return in, uploads, nil
}

// ListSellerCourses handles GET /produtos
func (h *Handlers) ListSellerCourses(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.ListSellerCourses")
	if !ok {
		return
	}
	courses, err := h.service.ListSellerCourses(r.Context(), caller)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if courses == nil {
		courses = []*domain.Course{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"products": courses})
}

// UpdateCourse handles PUT /produtos/{courseId}
func (h *Handlers) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.UpdateCourse")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	var in CourseInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	course, err := h.service.UpdateCourse(r.Context(), caller, courseID, in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, course)
}

// DeleteCourse handles DELETE /produtos/{courseId}
func (h *Handlers) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.DeleteCourse")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	if err := h.service.DeleteCourse(r.Context(), caller, courseID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateModule handles POST /produtos/{courseId}/modules
func (h *Handlers) CreateModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.CreateModule")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	var in ModuleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	module, err := h.service.CreateModule(r.Context(), caller, courseID, in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, module)
}

// UpdateModule handles PUT /produtos/{courseId}/modules/{moduleId}
func (h *Handlers) UpdateModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.UpdateModule")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	moduleID, ok := httputil.ParsePathInt64OrError(w, r, "moduleId")
	if !ok {
		return
	}
	var in ModuleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	module, err := h.service.UpdateModule(r.Context(), caller, courseID, moduleID, in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, module)
}

// DeleteModule handles DELETE /produtos/{courseId}/modules/{moduleId}
func (h *Handlers) DeleteModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.DeleteModule")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	moduleID, ok := httputil.ParsePathInt64OrError(w, r, "moduleId")
	if !ok {
		return
	}
	if err := h.service.DeleteModule(r.Context(), caller, courseID, moduleID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateLesson handles POST /produtos/{courseId}/modules/{moduleId}/lessons
func (h *Handlers) CreateLesson(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.CreateLesson")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	moduleID, ok := httputil.ParsePathInt64OrError(w, r, "moduleId")
	if !ok {
		return
	}
	var in LessonInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	lesson, err := h.service.CreateLesson(r.Context(), caller, courseID, moduleID, in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, lesson)
}

// UpdateLesson handles PUT /produtos/{courseId}/modules/{moduleId}/lessons/{lessonId}
func (h *Handlers) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.UpdateLesson")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	moduleID, ok := httputil.ParsePathInt64OrError(w, r, "moduleId")
	if !ok {
		return
	}
	lessonID, ok := httputil.ParsePathInt64OrError(w, r, "lessonId")
	if !ok {
		return
	}
	var in LessonInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	lesson, err := h.service.UpdateLesson(r.Context(), caller, courseID, moduleID, lessonID, in)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, lesson)
}

// DeleteLesson handles DELETE /produtos/{courseId}/modules/{moduleId}/lessons/{lessonId}
func (h *Handlers) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	caller, ok := subject(w, r, "courses.DeleteLesson")
	if !ok {
		return
	}
	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
	if !ok {
		return
	}
	moduleID, ok := httputil.ParsePathInt64OrError(w, r, "moduleId")
	if !ok {
		return
	}
	lessonID, ok := httputil.ParsePathInt64OrError(w, r, "lessonId")
	if !ok {
		return
	}
	if err := h.service.DeleteLesson(r.Context(), caller, courseID, moduleID, lessonID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
