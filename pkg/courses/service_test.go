package courses

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

type fixture struct {
	store   *storage.MemoryStore
	blobs   storage.BlobStore
	audit   *audit.FileLogger
	service *Service

	seller, rival, buyer *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := storage.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)
	return newFixtureWithBlobs(t, blobs)
}

func newFixtureWithBlobs(t *testing.T, blobs storage.BlobStore) *fixture {
	t.Helper()
	ctx := context.Background()

	auditLogger, err := audit.NewFileLogger(audit.DefaultFileLoggerConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { auditLogger.Close() })

	f := &fixture{store: storage.NewMemoryStore(), blobs: blobs, audit: auditLogger}
	f.seller = &domain.User{Name: "Seller", Email: "seller@example.com", Role: domain.RoleSeller}
	require.NoError(t, f.store.CreateUser(ctx, f.seller))
	f.rival = &domain.User{Name: "Rival", Email: "rival@example.com", Role: domain.RoleSeller}
	require.NoError(t, f.store.CreateUser(ctx, f.rival))
	f.buyer = &domain.User{Name: "Buyer", Email: "buyer@example.com", Role: domain.RoleUser}
	require.NoError(t, f.store.CreateUser(ctx, f.buyer))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f.service = NewService(f.store, blobs, auditLogger, logger)
	return f
}

func (f *fixture) sellerSubject() *auth.Subject {
	return &auth.Subject{UserID: f.seller.ID, Role: domain.RoleSeller}
}

func (f *fixture) rivalSubject() *auth.Subject {
	return &auth.Subject{UserID: f.rival.ID, Role: domain.RoleSeller}
}

func (f *fixture) buyerSubject() *auth.Subject {
	return &auth.Subject{UserID: f.buyer.ID, Role: domain.RoleUser}
}

// failingBlobStore fails every Put after the first `okPuts`
type failingBlobStore struct {
	storage.BlobStore
	okPuts  int
	puts    int
	deleted []storage.Handle
}

func (s *failingBlobStore) Put(ctx context.Context, data []byte, contentType, name string) (storage.Handle, error) {
	s.puts++
	if s.puts > s.okPuts {
		return "", domain.StorageFailure("failingBlobStore.Put", errors.New("disk full"))
	}
	return s.BlobStore.Put(ctx, data, contentType, name)
}

func (s *failingBlobStore) Delete(ctx context.Context, handle storage.Handle) error {
	s.deleted = append(s.deleted, handle)
	return s.BlobStore.Delete(ctx, handle)
}

func TestService_CreateCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "  Go  ", Category: "Programming"}, nil)
	require.NoError(t, err)
	assert.NotZero(t, course.ID)
	assert.Equal(t, "Go", course.Name)
	assert.Equal(t, f.seller.ID, course.SellerID)

	stored, err := f.store.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, "Programming", stored.Category)
	assert.Empty(t, stored.UserAccessIDs)

	events, err := f.audit.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeDataCourseCreate, events[0].EventType)
	assert.Equal(t, audit.ResourceTypeCourse, events[0].ResourceType)
}

func TestService_CreateCourse_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		subject *auth.Subject
		in      CourseInput
		uploads []Upload
		kind    domain.Kind
	}{
		{name: "anonymous", in: CourseInput{Name: "Go"}, kind: domain.KindUnauthorized},
		{name: "buyer", subject: f.buyerSubject(), in: CourseInput{Name: "Go"}, kind: domain.KindForbidden},
		{name: "blank name", subject: f.sellerSubject(), in: CourseInput{Name: "   "}, kind: domain.KindInvalidInput},
		{
			name:    "unknown attachment kind",
			subject: f.sellerSubject(),
			in:      CourseInput{Name: "Go"},
			uploads: []Upload{{Kind: "audio", Name: "a.mp3", Data: []byte("x")}},
			kind:    domain.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateCourse(ctx, tt.subject, tt.in, tt.uploads)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}

	courses, err := f.store.ListCourses(ctx)
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestService_CreateCourse_StoresAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, []Upload{
		{Kind: KindImage, Name: "cover.png", ContentType: "image/png", Data: []byte("\x89PNG")},
		{Kind: KindPDF, Name: "../../syllabus.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
	})
	require.NoError(t, err)

	assert.Equal(t, FilesPrefix+"image/"+itoa(course.ID)+"-cover.png", course.Attachments.ImageURL)
	assert.Equal(t, FilesPrefix+"pdf/"+itoa(course.ID)+"-syllabus.pdf", course.Attachments.PDFURL)
	assert.Empty(t, course.Attachments.VideoURL)

	data, contentType, err := f.blobs.Get(ctx, storage.Handle("image/"+itoa(course.ID)+"-cover.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)
	assert.Equal(t, "image/png", contentType)

	stored, err := f.store.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, course.Attachments, stored.Attachments)
}

func TestService_CreateCourse_UploadFailureRollsBack(t *testing.T) {
	inner, err := storage.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)
	blobs := &failingBlobStore{BlobStore: inner, okPuts: 1}
	f := newFixtureWithBlobs(t, blobs)
	ctx := context.Background()

	_, err = f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, []Upload{
		{Kind: KindImage, Name: "cover.png", Data: []byte("img")},
		{Kind: KindVideo, Name: "intro.mp4", Data: []byte("vid")},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))

	courses, err := f.store.ListCourses(ctx)
	require.NoError(t, err)
	assert.Empty(t, courses, "course must be removed when an upload fails")
	require.Len(t, blobs.deleted, 1)
	assert.Contains(t, string(blobs.deleted[0]), "cover.png")

	events, err := f.audit.ReadLogs(0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestService_UpdateCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, nil)
	require.NoError(t, err)

	updated, err := f.service.UpdateCourse(ctx, f.sellerSubject(), course.ID, CourseInput{Name: "Go 2", Category: "Backend", Description: "d"})
	require.NoError(t, err)
	assert.Equal(t, "Go 2", updated.Name)

	stored, err := f.service.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, "Backend", stored.Category)
	assert.Equal(t, "d", stored.Description)

	_, err = f.service.UpdateCourse(ctx, f.rivalSubject(), course.ID, CourseInput{Name: "Stolen"})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = f.service.UpdateCourse(ctx, f.sellerSubject(), 999, CourseInput{Name: "Nope"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	events, err := f.audit.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventTypeDataCourseUpdate, events[1].EventType)
	require.NotNil(t, events[1].Changes)
	assert.Equal(t, "Go", events[1].Changes.Before["name"])
}

func TestService_ListSellerCourses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, nil)
	require.NoError(t, err)
	_, err = f.service.CreateCourse(ctx, f.rivalSubject(), CourseInput{Name: "Rust"}, nil)
	require.NoError(t, err)

	courses, err := f.service.ListSellerCourses(ctx, f.sellerSubject())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Go", courses[0].Name)

	_, err = f.service.ListSellerCourses(ctx, nil)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestService_DeleteCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, []Upload{
		{Kind: KindImage, Name: "cover.png", Data: []byte("img")},
	})
	require.NoError(t, err)
	module, err := f.service.CreateModule(ctx, f.sellerSubject(), course.ID, ModuleInput{Title: "Intro", Order: 1})
	require.NoError(t, err)
	_, err = f.store.InsertGrant(ctx, f.buyer.ID, module.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.KindForbidden, domain.KindOf(f.service.DeleteCourse(ctx, f.rivalSubject(), course.ID)))

	require.NoError(t, f.service.DeleteCourse(ctx, f.sellerSubject(), course.ID))

	_, err = f.store.GetCourse(ctx, course.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	_, err = f.store.GetModule(ctx, module.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	buyer, err := f.store.GetUser(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, buyer.AccessibleCourseIDs)

	_, _, err = f.blobs.Get(ctx, storage.Handle("image/"+itoa(course.ID)+"-cover.png"))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestService_Modules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, nil)
	require.NoError(t, err)
	other, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Rust"}, nil)
	require.NoError(t, err)

	module, err := f.service.CreateModule(ctx, f.sellerSubject(), course.ID, ModuleInput{Title: "Intro", Order: 1})
	require.NoError(t, err)
	assert.Equal(t, course.ID, module.CourseID)

	_, err = f.service.CreateModule(ctx, f.sellerSubject(), course.ID, ModuleInput{Title: ""})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	_, err = f.service.CreateModule(ctx, f.buyerSubject(), course.ID, ModuleInput{Title: "Hack"})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	updated, err := f.service.UpdateModule(ctx, f.sellerSubject(), course.ID, module.ID, ModuleInput{Title: "Basics", Order: 3})
	require.NoError(t, err)
	assert.Equal(t, "Basics", updated.Title)
	assert.Equal(t, 3, updated.Order)

	// a module addressed through the wrong course does not exist there
	_, err = f.service.UpdateModule(ctx, f.sellerSubject(), other.ID, module.ID, ModuleInput{Title: "Moved"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(f.service.DeleteModule(ctx, f.sellerSubject(), other.ID, module.ID)))

	_, err = f.store.InsertGrant(ctx, f.buyer.ID, module.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteModule(ctx, f.sellerSubject(), course.ID, module.ID))

	modules, err := f.store.ListModules(ctx, course.ID)
	require.NoError(t, err)
	assert.Empty(t, modules)

	stored, err := f.store.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.UserAccessIDs)
}

func TestService_Lessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, f.sellerSubject(), CourseInput{Name: "Go"}, nil)
	require.NoError(t, err)
	m1, err := f.service.CreateModule(ctx, f.sellerSubject(), course.ID, ModuleInput{Title: "Intro", Order: 1})
	require.NoError(t, err)
	m2, err := f.service.CreateModule(ctx, f.sellerSubject(), course.ID, ModuleInput{Title: "Channels", Order: 2})
	require.NoError(t, err)

	lesson, err := f.service.CreateLesson(ctx, f.sellerSubject(), course.ID, m1.ID, LessonInput{Title: "Hello", Content: "fmt.Println", Order: 1})
	require.NoError(t, err)
	assert.Equal(t, m1.ID, lesson.ModuleID)

	_, err = f.service.CreateLesson(ctx, f.rivalSubject(), course.ID, m1.ID, LessonInput{Title: "Spam"})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
	_, err = f.service.CreateLesson(ctx, f.sellerSubject(), course.ID, 999, LessonInput{Title: "Lost"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	updated, err := f.service.UpdateLesson(ctx, f.sellerSubject(), course.ID, m1.ID, lesson.ID, LessonInput{Title: "Hello, world", VideoURL: "https://cdn.example/v.mp4", Order: 2})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", updated.Title)
	assert.Equal(t, "https://cdn.example/v.mp4", updated.VideoURL)

	_, err = f.service.UpdateLesson(ctx, f.sellerSubject(), course.ID, m2.ID, lesson.ID, LessonInput{Title: "Wrong module"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.NoError(t, f.service.DeleteLesson(ctx, f.sellerSubject(), course.ID, m1.ID, lesson.ID))
	_, err = f.store.GetLesson(ctx, lesson.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestAttachmentHandles(t *testing.T) {
	handles := attachmentHandles(domain.Attachments{
		ImageURL: FilesPrefix + "image/1-cover.png",
		VideoURL: "https://cdn.example/v.mp4",
		PDFURL:   FilesPrefix + "pdf/1-syllabus.pdf",
	})
	assert.Equal(t, []storage.Handle{"image/1-cover.png", "pdf/1-syllabus.pdf"}, handles)
	assert.Empty(t, attachmentHandles(domain.Attachments{}))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
