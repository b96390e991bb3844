// Package attachments serves standalone uploads and streams stored blobs back
// by handle.
package attachments

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/courses"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/httputil"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

const (
	uploadPrefix  = "uploads"
	uploadMessage = "files uploaded"
)

// uploadFields are the accepted multipart fields. "file" takes any allowed type.
var uploadFields = []struct {
	name  string
	allow func(mediaType string) bool
}{
	{"pdf", func(mt string) bool { return mt == "application/pdf" }},
	{"image", func(mt string) bool { return strings.HasPrefix(mt, "image/") }},
	{"video", func(mt string) bool { return strings.HasPrefix(mt, "video/") }},
	{"file", allowedMediaType},
}

// Handlers exposes blob upload and download
type Handlers struct {
	blobs          storage.BlobStore
	audit          audit.Logger
	logger         *observability.Logger
	maxUploadBytes int64
	now            func() time.Time
	newID          func() string
}

// NewHandlers creates attachment handlers
func NewHandlers(blobs storage.BlobStore, auditLogger audit.Logger, logger *observability.Logger, maxUploadBytes int64) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handlers{
		blobs:          blobs,
		audit:          auditLogger,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// RegisterPublicRoutes registers the download route
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc(courses.FilesPrefix+"{handle:.+}", h.Download).Methods("GET")
}

// RegisterRoutes registers the upload route
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/upload", h.Upload).Methods("POST")
}

func allowedMediaType(mediaType string) bool {
	if mediaType == "image/svg+xml" {
		return false
	}
	return mediaType == "application/pdf" ||
		strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "video/")
}

// allowedType accepts PDFs, raster images and videos
func allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return allowedMediaType(mediaType)
}

// UploadedFile describes one stored part of an upload
type UploadedFile struct {
	Field       string `json:"field"`
	Handle      string `json:"handle"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// UploadResponse is the body of a successful upload
type UploadResponse struct {
	Message string         `json:"message"`
	Files   []UploadedFile `json:"files"`
}

type pendingUpload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Upload handles POST /upload. It accepts one file in each of the "pdf", "image",
// "video" and "file" parts, stores all of them or none, and lists the handles.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	subject, err := auth.RequireSubject(r.Context(), "attachments.Upload")
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var pending []pendingUpload
	for _, field := range uploadFields {
		headers := r.MultipartForm.File[field.name]
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		data, err := readPart(header)
		if err != nil {
			httputil.WriteBadRequest(w, fmt.Sprintf("failed to read %s: %v", field.name, err))
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !allowedMediaType(mediaType) || !field.allow(mediaType) {
			httputil.WriteDomainError(w, domain.E(domain.KindInvalidInput, "attachments.Upload",
				"unsupported file type %q for %s: only pdf, raster images and videos are accepted", contentType, field.name))
			return
		}
		pending = append(pending, pendingUpload{
			field:       field.name,
			filename:    header.Filename,
			contentType: contentType,
			data:        data,
		})
	}
	if len(pending) == 0 {
		httputil.WriteBadRequest(w, "a pdf, image, video or file part is required")
		return
	}

	stored := make([]UploadedFile, len(pending))
	g, gctx := errgroup.WithContext(r.Context())
	for i, p := range pending {
		i, p := i, p // per-iteration copies for the goroutine below
		name := storage.BlobKey(uploadPrefix, fmt.Sprintf("%d-%s-%s",
			h.now().UnixMilli(), h.newID(), storage.BlobKey("", p.filename)))
		g.Go(func() error {
			handle, err := h.blobs.Put(gctx, p.data, p.contentType, name)
			if err != nil {
				return err
			}
			stored[i] = UploadedFile{
				Field:       p.field,
				Handle:      string(handle),
				URL:         courses.FilesPrefix + string(handle),
				ContentType: p.contentType,
				Size:        len(p.data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range stored {
			if f.Handle == "" {
				continue
			}
			if delErr := h.blobs.Delete(r.Context(), storage.Handle(f.Handle)); delErr != nil {
				h.logger.WithError(delErr).WithField("handle", f.Handle).Warn("Failed to remove partial upload")
			}
		}
		httputil.WriteDomainError(w, err)
		return
	}

	actor := subject.UserID
	for _, f := range stored {
		if auditErr := h.audit.LogDataMutation(r.Context(), audit.EventTypeDataFileUpload, &actor, audit.ResourceTypeFile, f.Handle,
			&audit.ChangeDetails{After: map[string]interface{}{"field": f.Field, "content_type": f.ContentType, "size": f.Size}}, ""); auditErr != nil {
			h.logger.WithError(auditErr).Warn("Failed to write audit event")
		}
	}

	httputil.WriteCreated(w, UploadResponse{Message: uploadMessage, Files: stored})
}

// contentDisposition serves previewable types inline and everything else as a download
func contentDisposition(handle storage.Handle, contentType string) string {
	disposition := "attachment"
	if allowedType(contentType) {
		disposition = "inline"
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": path.Base(string(handle))}); v != "" {
		return v
	}
	return disposition
}

// Download handles GET /files/{handle}
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	handle := storage.Handle(mux.Vars(r)["handle"])
	if err := storage.ValidateHandle(handle); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	data, contentType, err := h.blobs.Get(r.Context(), handle)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", contentDisposition(handle, contentType))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
