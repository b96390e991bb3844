package catalog

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/access"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

type fixture struct {
	store     *storage.MemoryStore
	engine    *access.Engine
	assembler *Assembler
	metrics   *observability.Metrics

	seller, buyer *domain.User
	course, empty *domain.Course
	m1, m2        *domain.Module
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f := &fixture{store: storage.NewMemoryStore(), metrics: observability.NewNopMetrics()}

	f.seller = &domain.User{Name: "Ana Seller", Email: "ana@example.com", Role: domain.RoleSeller}
	require.NoError(t, f.store.CreateUser(ctx, f.seller))
	f.buyer = &domain.User{Name: "Bruno", Email: "bruno@example.com", Role: domain.RoleUser}
	require.NoError(t, f.store.CreateUser(ctx, f.buyer))

	f.course = &domain.Course{SellerID: f.seller.ID, Name: "Go", Category: "Programming"}
	require.NoError(t, f.store.CreateCourse(ctx, f.course))
	f.empty = &domain.Course{SellerID: f.seller.ID, Name: "Coming soon"}
	require.NoError(t, f.store.CreateCourse(ctx, f.empty))

	// created out of order to check sorting
	f.m2 = &domain.Module{CourseID: f.course.ID, Title: "Channels", Order: 2}
	require.NoError(t, f.store.CreateModule(ctx, f.m2))
	f.m1 = &domain.Module{CourseID: f.course.ID, Title: "Intro", Order: 1}
	require.NoError(t, f.store.CreateModule(ctx, f.m1))

	for _, l := range []*domain.Lesson{
		{ModuleID: f.m1.ID, Title: "b", Order: 2},
		{ModuleID: f.m1.ID, Title: "a", Order: 1},
		{ModuleID: f.m2.ID, Title: "c", Order: 1},
	} {
		require.NoError(t, f.store.CreateLesson(ctx, l))
	}

	f.engine = access.NewEngine(f.store, logger)
	f.assembler = NewAssembler(f.store, f.engine, Config{SellerCacheSize: 16, SellerCacheTTL: time.Minute}, f.metrics, logger)
	return f
}

func ids(summaries []CourseSummary) []int64 {
	out := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}

func TestListCatalog_PartialGrantMakesCourseAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GrantModuleAccess(ctx, f.buyer.ID, f.m1.ID)
	require.NoError(t, err)

	catalog, err := f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)

	require.Len(t, catalog.Available["Programming"], 1)
	summary := catalog.Available["Programming"][0]
	assert.Equal(t, f.course.ID, summary.ID)
	assert.Equal(t, "Ana Seller", summary.SellerName)
	assert.Equal(t, 2, summary.ModuleCount)

	assert.Empty(t, catalog.Unavailable["Programming"])
	assert.Equal(t, []int64{f.empty.ID}, ids(catalog.Unavailable[domain.CategoryUncategorized]))
}

func TestListCatalog_NoGrantsAllUnavailable(t *testing.T) {
	f := newFixture(t)

	catalog, err := f.assembler.ListCatalog(context.Background(), f.buyer.ID)
	require.NoError(t, err)

	assert.Empty(t, catalog.Available)
	assert.Equal(t, []int64{f.course.ID}, ids(catalog.Unavailable["Programming"]))
	assert.Equal(t, []int64{f.empty.ID}, ids(catalog.Unavailable[domain.CategoryUncategorized]))
}

func TestListCatalog_CourseWithoutModulesNeverAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.GrantCourseAccess(ctx, f.buyer.ID, f.empty.ID))
	require.NoError(t, f.engine.GrantCourseAccess(ctx, f.buyer.ID, f.course.ID))

	catalog, err := f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, catalog.Available[domain.CategoryUncategorized])
	assert.Equal(t, []int64{f.empty.ID}, ids(catalog.Unavailable[domain.CategoryUncategorized]))
}

func TestListCatalog_OwnerSeesOwnCoursesAvailable(t *testing.T) {
	f := newFixture(t)

	catalog, err := f.assembler.ListCatalog(context.Background(), f.seller.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{f.course.ID}, ids(catalog.Available["Programming"]))
	assert.Equal(t, []int64{f.empty.ID}, ids(catalog.Available[domain.CategoryUncategorized]))
	assert.Empty(t, catalog.Unavailable)
}

func TestListCatalog_RevokeMovesCourseBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GrantModuleAccess(ctx, f.buyer.ID, f.m2.ID)
	require.NoError(t, err)
	_, err = f.engine.RevokeModuleAccess(ctx, f.buyer.ID, f.m2.ID)
	require.NoError(t, err)

	catalog, err := f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, catalog.Available)
}

func TestListCatalog_KeepsStoreOrderWithinCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	later := &domain.Course{SellerID: f.seller.ID, Name: "Advanced Go", Category: "Programming"}
	require.NoError(t, f.store.CreateCourse(ctx, later))

	catalog, err := f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.course.ID, later.ID}, ids(catalog.Unavailable["Programming"]))
}

// staleUserStore reports a fixed course cache for every user
type staleUserStore struct {
	*storage.MemoryStore
	cached []int64
}

func (s *staleUserStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.MemoryStore.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	stale := *u
	stale.AccessibleCourseIDs = s.cached
	return &stale, nil
}

func TestListCatalog_FollowsGrantsWhenUserCacheDrifts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	_, err := f.engine.GrantModuleAccess(ctx, f.buyer.ID, f.m1.ID)
	require.NoError(t, err)

	missing := NewAssembler(&staleUserStore{MemoryStore: f.store}, f.engine, Config{}, nil, logger)
	catalog, err := missing.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.course.ID}, ids(catalog.Available["Programming"]))

	_, err = f.engine.RevokeModuleAccess(ctx, f.buyer.ID, f.m1.ID)
	require.NoError(t, err)

	extra := NewAssembler(&staleUserStore{MemoryStore: f.store, cached: []int64{f.course.ID}}, f.engine, Config{}, nil, logger)
	catalog, err = extra.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, catalog.Available)
	assert.Equal(t, []int64{f.course.ID}, ids(catalog.Unavailable["Programming"]))
}

func TestListCatalog_UnknownViewer(t *testing.T) {
	f := newFixture(t)
	_, err := f.assembler.ListCatalog(context.Background(), 999)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestListCatalog_SellerNamesAreCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)
	_, err = f.assembler.ListCatalog(ctx, f.buyer.ID)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SellerCacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SellerCacheHits))
}

func TestGetCourseDetail_FlagsModulesAndKeepsLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GrantModuleAccess(ctx, f.buyer.ID, f.m1.ID)
	require.NoError(t, err)

	detail, err := f.assembler.GetCourseDetail(ctx, f.course.ID, f.buyer.ID)
	require.NoError(t, err)

	assert.True(t, detail.HasAccess)
	assert.False(t, detail.IsOwner)
	assert.Equal(t, "Ana Seller", detail.SellerName)
	require.Len(t, detail.Modules, 2)

	first, second := detail.Modules[0], detail.Modules[1]
	assert.Equal(t, f.m1.ID, first.ID)
	assert.True(t, first.HasAccess)
	require.Len(t, first.Lessons, 2)
	assert.Equal(t, "a", first.Lessons[0].Title)
	assert.Equal(t, "b", first.Lessons[1].Title)

	assert.Equal(t, f.m2.ID, second.ID)
	assert.False(t, second.HasAccess)
	require.Len(t, second.Lessons, 1, "locked modules still list their lessons")
	assert.Equal(t, "c", second.Lessons[0].Title)
}

func TestGetCourseDetail_Owner(t *testing.T) {
	f := newFixture(t)

	detail, err := f.assembler.GetCourseDetail(context.Background(), f.course.ID, f.seller.ID)
	require.NoError(t, err)
	assert.True(t, detail.IsOwner)
	for _, m := range detail.Modules {
		assert.True(t, m.HasAccess)
	}
}

func TestGetCourseDetail_EmptyCourse(t *testing.T) {
	f := newFixture(t)

	detail, err := f.assembler.GetCourseDetail(context.Background(), f.empty.ID, f.buyer.ID)
	require.NoError(t, err)
	assert.False(t, detail.HasAccess)
	assert.Equal(t, domain.CategoryUncategorized, detail.Category)

	data, err := json.Marshal(detail)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"modules":[]`)
}

func TestGetCourseDetail_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.assembler.GetCourseDetail(context.Background(), 999, f.buyer.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
