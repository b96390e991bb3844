package catalog

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
)

// Store is the read surface the assembler needs
type Store interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
	GetCourse(ctx context.Context, id int64) (*domain.Course, error)
	ListCourses(ctx context.Context) ([]*domain.Course, error)
	ListModules(ctx context.Context, courseID int64) ([]*domain.Module, error)
	ListModuleCourses(ctx context.Context) (map[int64]int64, error)
	ListLessonsByCourse(ctx context.Context, courseID int64) (map[int64][]*domain.Lesson, error)
}

// AccessReader answers grant questions for a viewer
type AccessReader interface {
	ListUserGrantedModules(ctx context.Context, userID int64) (map[int64]bool, error)
}

// CourseSummary is one catalog entry
type CourseSummary struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category"`
	SellerID    int64              `json:"userId"`
	SellerName  string             `json:"sellerName,omitempty"`
	Attachments domain.Attachments `json:"attachments"`
	ModuleCount int                `json:"moduleCount"`
}

// Catalog partitions every course by whether the viewer may open it.
// Both maps are keyed by category.
type Catalog struct {
	Available   map[string][]CourseSummary `json:"available"`
	Unavailable map[string][]CourseSummary `json:"unavailable"`
}

// ModuleView is a module with its lessons and the viewer's access flag
type ModuleView struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Order     int              `json:"order"`
	HasAccess bool             `json:"hasAccess"`
	Lessons   []*domain.Lesson `json:"lessons"`
}

// CourseDetail is the full course tree as seen by one viewer. Lessons of
// locked modules are included; rendering decides what to hide.
type CourseDetail struct {
	CourseSummary
	IsOwner   bool         `json:"isOwner"`
	HasAccess bool         `json:"hasAccess"`
	Modules   []ModuleView `json:"modules"`
}

// Config tunes the seller name cache
type Config struct {
	SellerCacheSize int
	SellerCacheTTL  time.Duration
}

// Assembler builds catalog views
type Assembler struct {
	store   Store
	access  AccessReader
	sellers *lru.LRU[int64, string]
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewAssembler creates an assembler. metrics may be nil.
func NewAssembler(store Store, access AccessReader, cfg Config, metrics *observability.Metrics, logger *observability.Logger) *Assembler {
	if cfg.SellerCacheSize <= 0 {
		cfg.SellerCacheSize = 1024
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Assembler{
		store:   store,
		access:  access,
		sellers: lru.NewLRU[int64, string](cfg.SellerCacheSize, nil, cfg.SellerCacheTTL),
		metrics: metrics,
		logger:  logger,
	}
}

// ListCatalog splits every course into available and unavailable for the
// viewer. A course is available when the viewer holds a grant on at least
// one of its modules, or owns it. Availability is read from the grants
// themselves, not the viewer's cached course list. Within a category courses
// keep store order.
func (a *Assembler) ListCatalog(ctx context.Context, viewerID int64) (*Catalog, error) {
	start := time.Now()
	defer func() {
		a.metrics.CatalogBuildDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	}()

	var (
		courses []*domain.Course
		owners  map[int64]int64
		granted map[int64]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := a.store.GetUser(gctx, viewerID)
		return err
	})
	g.Go(func() error {
		var err error
		courses, err = a.store.ListCourses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		owners, err = a.store.ListModuleCourses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		granted, err = a.access.ListUserGrantedModules(gctx, viewerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[int64]int)
	for _, courseID := range owners {
		counts[courseID]++
	}
	accessible := make(map[int64]bool)
	for moduleID := range granted {
		if courseID, ok := owners[moduleID]; ok {
			accessible[courseID] = true
		}
	}

	names, err := a.sellerNames(ctx, courses)
	if err != nil {
		return nil, err
	}

	catalog := &Catalog{
		Available:   make(map[string][]CourseSummary),
		Unavailable: make(map[string][]CourseSummary),
	}
	for _, c := range courses {
		summary := summarize(c, names[c.SellerID], counts[c.ID])
		if c.SellerID == viewerID || (counts[c.ID] > 0 && accessible[c.ID]) {
			catalog.Available[summary.Category] = append(catalog.Available[summary.Category], summary)
		} else {
			catalog.Unavailable[summary.Category] = append(catalog.Unavailable[summary.Category], summary)
		}
	}
	return catalog, nil
}

// GetCourseDetail returns the course with modules and lessons in order and
// each module flagged with the viewer's access
func (a *Assembler) GetCourseDetail(ctx context.Context, courseID, viewerID int64) (*CourseDetail, error) {
	start := time.Now()
	defer func() {
		a.metrics.CatalogBuildDuration.WithLabelValues("detail").Observe(time.Since(start).Seconds())
	}()

	course, err := a.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	var (
		modules []*domain.Module
		lessons map[int64][]*domain.Lesson
		granted map[int64]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		modules, err = a.store.ListModules(gctx, courseID)
		return err
	})
	g.Go(func() error {
		var err error
		lessons, err = a.store.ListLessonsByCourse(gctx, courseID)
		return err
	})
	g.Go(func() error {
		var err error
		granted, err = a.access.ListUserGrantedModules(gctx, viewerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names, err := a.sellerNames(ctx, []*domain.Course{course})
	if err != nil {
		return nil, err
	}

	detail := &CourseDetail{
		CourseSummary: summarize(course, names[course.SellerID], len(modules)),
		IsOwner:       course.SellerID == viewerID,
		Modules:       make([]ModuleView, 0, len(modules)),
	}
	for _, m := range modules {
		view := ModuleView{
			ID:        m.ID,
			Title:     m.Title,
			Order:     m.Order,
			HasAccess: detail.IsOwner || granted[m.ID],
			Lessons:   lessons[m.ID],
		}
		if view.Lessons == nil {
			view.Lessons = []*domain.Lesson{}
		}
		detail.HasAccess = detail.HasAccess || view.HasAccess
		detail.Modules = append(detail.Modules, view)
	}
	return detail, nil
}

func summarize(c *domain.Course, sellerName string, moduleCount int) CourseSummary {
	return CourseSummary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Category:    c.CategoryOrDefault(),
		SellerID:    c.SellerID,
		SellerName:  sellerName,
		Attachments: c.Attachments,
		ModuleCount: moduleCount,
	}
}

// sellerNames resolves seller names through the LRU, loading all misses in one query
func (a *Assembler) sellerNames(ctx context.Context, courses []*domain.Course) (map[int64]string, error) {
	names := make(map[int64]string)
	var missing []int64
	for _, c := range courses {
		if _, done := names[c.SellerID]; done {
			continue
		}
		if name, ok := a.sellers.Get(c.SellerID); ok {
			a.metrics.SellerCacheHits.Inc()
			names[c.SellerID] = name
			continue
		}
		a.metrics.SellerCacheMisses.Inc()
		names[c.SellerID] = ""
		missing = append(missing, c.SellerID)
	}
	if len(missing) == 0 {
		return names, nil
	}

	users, err := a.store.GetUsersByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Name
		a.sellers.Add(u.ID, u.Name)
	}
	return names, nil
}

