package courses

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

// FilesPrefix is the public path under which blob handles are served
const FilesPrefix = "/files/"

// Attachment kinds accepted on a course
const (
	KindImage = "image"
	KindVideo = "video"
	KindPDF   = "pdf"
)

// CourseInput holds the editable course fields
type CourseInput struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// ModuleInput holds the editable module fields
type ModuleInput struct {
	Title string `json:"title"`
	Order int    `json:"order"`
}

// LessonInput holds the editable lesson fields
type LessonInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	VideoURL string `json:"videoUrl"`
	Order    int    `json:"order"`
}

// Upload is one attachment part of a create request
type Upload struct {
	Kind        string
	Name        string
	ContentType string
	Data        []byte
}

// Service manages courses and their module/lesson tree. Only sellers create
// courses and only the owning seller changes them.
type Service struct {
	store  storage.CourseStore
	blobs  storage.BlobStore
	audit  audit.Logger
	logger *observability.Logger
}

// NewService creates a course service
func NewService(store storage.CourseStore, blobs storage.BlobStore, auditLogger audit.Logger, logger *observability.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	return &Service{store: store, blobs: blobs, audit: auditLogger, logger: logger}
}

func (s *Service) recordMutation(ctx context.Context, eventType audit.EventType, subject *auth.Subject, resourceType audit.ResourceType, id int64, changes *audit.ChangeDetails) {
	actor := subject.UserID
	if err := s.audit.LogDataMutation(ctx, eventType, &actor, resourceType, strconv.FormatInt(id, 10), changes, ""); err != nil {
		s.logger.WithError(err).Warn("Failed to write audit event")
	}
}

func (in CourseInput) validate(op string) error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.E(domain.KindInvalidInput, op, "name is required")
	}
	return nil
}

func requireTitle(op, title string) error {
	if strings.TrimSpace(title) == "" {
		return domain.E(domain.KindInvalidInput, op, "title is required")
	}
	return nil
}

// ownedCourse loads a course the subject owns
func (s *Service) ownedCourse(ctx context.Context, op string, subject *auth.Subject, courseID int64) (*domain.Course, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwner(subject, course.SellerID, op); err != nil {
		return nil, err
	}
	return course, nil
}

// ownedModule loads a module of a course the subject owns
func (s *Service) ownedModule(ctx context.Context, op string, subject *auth.Subject, courseID, moduleID int64) (*domain.Module, error) {
	if _, err := s.ownedCourse(ctx, op, subject, courseID); err != nil {
		return nil, err
	}
	module, err := s.store.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if module.CourseID != courseID {
		return nil, domain.NotFound(op, "module", moduleID)
	}
	return module, nil
}

// ownedLesson loads a lesson under a module of a course the subject owns
func (s *Service) ownedLesson(ctx context.Context, op string, subject *auth.Subject, courseID, moduleID, lessonID int64) (*domain.Lesson, error) {
	if _, err := s.ownedModule(ctx, op, subject, courseID, moduleID); err != nil {
		return nil, err
	}
	lesson, err := s.store.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.ModuleID != moduleID {
		return nil, domain.NotFound(op, "lesson", lessonID)
	}
	return lesson, nil
}

// CreateCourse creates a course owned by the subject and stores any uploads.
// If an upload fails the course is removed again.
func (s *Service) CreateCourse(ctx context.Context, subject *auth.Subject, in CourseInput, uploads []Upload) (*domain.Course, error) {
	const op = "courses.CreateCourse"
	if subject == nil {
		return nil, domain.E(domain.KindUnauthorized, op, "authentication required")
	}
	if !subject.IsSeller() {
		return nil, domain.E(domain.KindForbidden, op, "only sellers can create courses")
	}
	if err := in.validate(op); err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if u.Kind != KindImage && u.Kind != KindVideo && u.Kind != KindPDF {
			return nil, domain.E(domain.KindInvalidInput, op, "unknown attachment kind %q", u.Kind)
		}
	}

	course := &domain.Course{
		SellerID:    subject.UserID,
		Name:        strings.TrimSpace(in.Name),
		Category:    strings.TrimSpace(in.Category),
		Description: in.Description,
	}
	if err := s.store.CreateCourse(ctx, course); err != nil {
		return nil, err
	}

	if len(uploads) > 0 {
		if err := s.attach(ctx, course, uploads); err != nil {
			if delErr := s.store.DeleteCourse(ctx, course.ID); delErr != nil {
				s.logger.WithError(delErr).Warnf("Failed to remove course %d after upload failure", course.ID)
			}
			return nil, err
		}
	}

	s.recordMutation(ctx, audit.EventTypeDataCourseCreate, subject, audit.ResourceTypeCourse, course.ID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": course.Name, "category": course.Category},
	})
	return course, nil
}

// attach stores the uploads under <kind>/<courseId>-<name> and records them on the course
func (s *Service) attach(ctx context.Context, course *domain.Course, uploads []Upload) error {
	var stored []storage.Handle
	for _, u := range uploads {
		name := storage.BlobKey(u.Kind, fmt.Sprintf("%d-%s", course.ID, storage.BlobKey("", u.Name)))
		handle, err := s.blobs.Put(ctx, u.Data, u.ContentType, name)
		if err != nil {
			s.discard(ctx, stored)
			return err
		}
		stored = append(stored, handle)

		url := FilesPrefix + string(handle)
		switch u.Kind {
		case KindImage:
			course.Attachments.ImageURL = url
		case KindVideo:
			course.Attachments.VideoURL = url
		case KindPDF:
			course.Attachments.PDFURL = url
		}
	}
	if err := s.store.UpdateCourse(ctx, course); err != nil {
		s.discard(ctx, stored)
		return err
	}
	return nil
}

// discard deletes blobs best-effort
func (s *Service) discard(ctx context.Context, handles []storage.Handle) {
	for _, h := range handles {
		if err := s.blobs.Delete(ctx, h); err != nil {
			s.logger.WithError(err).Warnf("Failed to delete blob %s", h)
		}
	}
}

// attachmentHandles returns the blob handles referenced by a course
func attachmentHandles(a domain.Attachments) []storage.Handle {
	var handles []storage.Handle
	for _, url := range []string{a.ImageURL, a.VideoURL, a.PDFURL} {
		if strings.HasPrefix(url, FilesPrefix) {
			handles = append(handles, storage.Handle(strings.TrimPrefix(url, FilesPrefix)))
		}
	}
	return handles
}

// GetCourse returns one course
func (s *Service) GetCourse(ctx context.Context, courseID int64) (*domain.Course, error) {
	return s.store.GetCourse(ctx, courseID)
}

// ListSellerCourses returns the courses the subject owns
func (s *Service) ListSellerCourses(ctx context.Context, subject *auth.Subject) ([]*domain.Course, error) {
	if subject == nil {
		return nil, domain.E(domain.KindUnauthorized, "courses.ListSellerCourses", "authentication required")
	}
	return s.store.ListCoursesBySeller(ctx, subject.UserID)
}

// UpdateCourse changes name, category and description
func (s *Service) UpdateCourse(ctx context.Context, subject *auth.Subject, courseID int64, in CourseInput) (*domain.Course, error) {
	const op = "courses.UpdateCourse"
	if err := in.validate(op); err != nil {
		return nil, err
	}
	course, err := s.ownedCourse(ctx, op, subject, courseID)
	if err != nil {
		return nil, err
	}

	before := map[string]interface{}{"name": course.Name, "category": course.Category}
	course.Name = strings.TrimSpace(in.Name)
	course.Category = strings.TrimSpace(in.Category)
	course.Description = in.Description
	if err := s.store.UpdateCourse(ctx, course); err != nil {
		return nil, err
	}

	s.recordMutation(ctx, audit.EventTypeDataCourseUpdate, subject, audit.ResourceTypeCourse, course.ID, &audit.ChangeDetails{
		Before: before,
		After:  map[string]interface{}{"name": course.Name, "category": course.Category},
	})
	return course, nil
}

// DeleteCourse removes the course with its modules, lessons and grants, then
// its attachments
func (s *Service) DeleteCourse(ctx context.Context, subject *auth.Subject, courseID int64) error {
	const op = "courses.DeleteCourse"
	course, err := s.ownedCourse(ctx, op, subject, courseID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCourse(ctx, courseID); err != nil {
		return err
	}
	s.discard(ctx, attachmentHandles(course.Attachments))

	s.recordMutation(ctx, audit.EventTypeDataCourseDelete, subject, audit.ResourceTypeCourse, courseID, &audit.ChangeDetails{
		Before: map[string]interface{}{"name": course.Name},
	})
	return nil
}

// CreateModule adds a module to an owned course
func (s *Service) CreateModule(ctx context.Context, subject *auth.Subject, courseID int64, in ModuleInput) (*domain.Module, error) {
	const op = "courses.CreateModule"
	if err := requireTitle(op, in.Title); err != nil {
		return nil, err
	}
	if _, err := s.ownedCourse(ctx, op, subject, courseID); err != nil {
		return nil, err
	}

	module := &domain.Module{CourseID: courseID, Title: strings.TrimSpace(in.Title), Order: in.Order}
	if err := s.store.CreateModule(ctx, module); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, audit.EventTypeDataModuleCreate, subject, audit.ResourceTypeModule, module.ID, nil)
	return module, nil
}

// UpdateModule changes a module's title and order
func (s *Service) UpdateModule(ctx context.Context, subject *auth.Subject, courseID, moduleID int64, in ModuleInput) (*domain.Module, error) {
	const op = "courses.UpdateModule"
	if err := requireTitle(op, in.Title); err != nil {
		return nil, err
	}
	module, err := s.ownedModule(ctx, op, subject, courseID, moduleID)
	if err != nil {
		return nil, err
	}

	module.Title = strings.TrimSpace(in.Title)
	module.Order = in.Order
	if err := s.store.UpdateModule(ctx, module); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, audit.EventTypeDataModuleUpdate, subject, audit.ResourceTypeModule, module.ID, nil)
	return module, nil
}

// DeleteModule removes a module with its lessons and grants
func (s *Service) DeleteModule(ctx context.Context, subject *auth.Subject, courseID, moduleID int64) error {
	const op = "courses.DeleteModule"
	if _, err := s.ownedModule(ctx, op, subject, courseID, moduleID); err != nil {
		return err
	}
	if err := s.store.DeleteModule(ctx, moduleID); err != nil {
		return err
	}
	s.recordMutation(ctx, audit.EventTypeDataModuleDelete, subject, audit.ResourceTypeModule, moduleID, nil)
	return nil
}

// CreateLesson adds a lesson to a module of an owned course
func (s *Service) CreateLesson(ctx context.Context, subject *auth.Subject, courseID, moduleID int64, in LessonInput) (*domain.Lesson, error) {
	const op = "courses.CreateLesson"
	if err := requireTitle(op, in.Title); err != nil {
		return nil, err
	}
	if _, err := s.ownedModule(ctx, op, subject, courseID, moduleID); err != nil {
		return nil, err
	}

	lesson := &domain.Lesson{
		ModuleID: moduleID,
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		VideoURL: in.VideoURL,
		Order:    in.Order,
	}
	if err := s.store.CreateLesson(ctx, lesson); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, audit.EventTypeDataLessonCreate, subject, audit.ResourceTypeLesson, lesson.ID, nil)
	return lesson, nil
}

// UpdateLesson changes a lesson's fields
func (s *Service) UpdateLesson(ctx context.Context, subject *auth.Subject, courseID, moduleID, lessonID int64, in LessonInput) (*domain.Lesson, error) {
	const op = "courses.UpdateLesson"
	if err := requireTitle(op, in.Title); err != nil {
		return nil, err
	}
	lesson, err := s.ownedLesson(ctx, op, subject, courseID, moduleID, lessonID)
	if err != nil {
		return nil, err
	}

	lesson.Title = strings.TrimSpace(in.Title)
	lesson.Content = in.Content
	lesson.VideoURL = in.VideoURL
	lesson.Order = in.Order
	if err := s.store.UpdateLesson(ctx, lesson); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, audit.EventTypeDataLessonUpdate, subject, audit.ResourceTypeLesson, lesson.ID, nil)
	return lesson, nil
}

// DeleteLesson removes a lesson
func (s *Service) DeleteLesson(ctx context.Context, subject *auth.Subject, courseID, moduleID, lessonID int64) error {
	const op = "courses.DeleteLesson"
	if _, err := s.ownedLesson(ctx, op, subject, courseID, moduleID, lessonID); err != nil {
		return err
	}
	if err := s.store.DeleteLesson(ctx, lessonID); err != nil {
		return err
	}
	s.recordMutation(ctx, audit.EventTypeDataLessonDelete, subject, audit.ResourceTypeLesson, lessonID, nil)
	return nil
}
