package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

type grantKey struct {
	userID   int64
	moduleID int64
}

// MemoryStore is a mutex-guarded RecordStore. Every mutation holds the write
// lock for its whole duration, so readers never see a half-applied change.
type MemoryStore struct {
	mu sync.RWMutex

	nextUserID   int64
	nextCourseID int64
	nextModuleID int64
	nextLessonID int64

	users   map[int64]*domain.User
	emails  map[string]int64
	courses map[int64]*domain.Course
	modules map[int64]*domain.Module
	lessons map[int64]*domain.Lesson
	grants  map[grantKey]time.Time

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]*domain.User),
		emails:  make(map[string]int64),
		courses: make(map[int64]*domain.Course),
		modules: make(map[int64]*domain.Module),
		lessons: make(map[int64]*domain.Lesson),
		grants:  make(map[grantKey]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func cloneIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.AccessibleCourseIDs = cloneIDs(u.AccessibleCourseIDs)
	return &c
}

func copyCourse(c *domain.Course) *domain.Course {
	out := *c
	out.UserAccessIDs = cloneIDs(c.UserAccessIDs)
	return &out
}

func copyModule(m *domain.Module) *domain.Module {
	out := *m
	return &out
}

func copyLesson(l *domain.Lesson) *domain.Lesson {
	out := *l
	return &out
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CreateUser implements UserStore.CreateUser
func (s *MemoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.emails[email]; exists {
		return domain.E(domain.KindConflict, "CreateUser", "email already registered")
	}

	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = s.now()
	user.AccessibleCourseIDs = []int64{}

	s.users[user.ID] = copyUser(user)
	s.emails[email] = user.ID
	return nil
}

// GetUser implements UserStore.GetUser
func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.NotFound("GetUser", "user", id)
	}
	return copyUser(u), nil
}

// GetUserByEmail implements UserStore.GetUserByEmail
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "GetUserByEmail", "user not found")
	}
	return copyUser(s.users[id]), nil
}

// ListUsers implements UserStore.ListUsers
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GetUsersByIDs implements UserStore.GetUsersByIDs. Unknown ids are skipped.
func (s *MemoryStore) GetUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := s.users[id]; ok {
			users = append(users, copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CreateCourse implements CourseStore.CreateCourse
func (s *MemoryStore) CreateCourse(ctx context.Context, course *domain.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[course.SellerID]; !ok {
		return domain.NotFound("CreateCourse", "user", course.SellerID)
	}

	s.nextCourseID++
	now := s.now()
	course.ID = s.nextCourseID
	course.CreatedAt = now
	course.UpdatedAt = now
	course.UserAccessIDs = []int64{}

	stored := copyCourse(course)
	stored.SellerName = ""
	s.courses[course.ID] = stored
	return nil
}

// GetCourse implements CourseStore.GetCourse
func (s *MemoryStore) GetCourse(ctx context.Context, id int64) (*domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, domain.NotFound("GetCourse", "course", id)
	}
	return copyCourse(c), nil
}

func (s *MemoryStore) filterCourses(keep func(*domain.Course) bool) []*domain.Course {
	courses := make([]*domain.Course, 0, len(s.courses))
	for _, c := range s.courses {
		if keep(c) {
			courses = append(courses, copyCourse(c))
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses
}

// ListCourses implements CourseStore.ListCourses
func (s *MemoryStore) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterCourses(func(*domain.Course) bool { return true }), nil
}

// ListCoursesBySeller implements CourseStore.ListCoursesBySeller
func (s *MemoryStore) ListCoursesBySeller(ctx context.Context, sellerID int64) ([]*domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterCourses(func(c *domain.Course) bool { return c.SellerID == sellerID }), nil
}

// UpdateCourse implements CourseStore.UpdateCourse. Owner and caches are not writable.
func (s *MemoryStore) UpdateCourse(ctx context.Context, course *domain.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.courses[course.ID]
	if !ok {
		return domain.NotFound("UpdateCourse", "course", course.ID)
	}
	existing.Name = course.Name
	existing.Category = course.Category
	existing.Description = course.Description
	existing.Attachments = course.Attachments
	existing.UpdatedAt = s.now()

	course.UpdatedAt = existing.UpdatedAt
	course.CreatedAt = existing.CreatedAt
	course.SellerID = existing.SellerID
	course.UserAccessIDs = cloneIDs(existing.UserAccessIDs)
	return nil
}

// DeleteCourse implements CourseStore.DeleteCourse
func (s *MemoryStore) DeleteCourse(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[id]; !ok {
		return domain.NotFound("DeleteCourse", "course", id)
	}

	affected := make(map[int64]struct{})
	for moduleID, m := range s.modules {
		if m.CourseID == id {
			s.deleteModuleLocked(moduleID, affected)
		}
	}
	delete(s.courses, id)

	for userID := range affected {
		s.recomputeUserLocked(userID)
	}
	return nil
}

// deleteModuleLocked removes a module with its lessons and grants, collecting
// the users whose grants were removed.
func (s *MemoryStore) deleteModuleLocked(moduleID int64, affected map[int64]struct{}) {
	for lessonID, l := range s.lessons {
		if l.ModuleID == moduleID {
			delete(s.lessons, lessonID)
		}
	}
	for key := range s.grants {
		if key.moduleID == moduleID {
			delete(s.grants, key)
			affected[key.userID] = struct{}{}
		}
	}
	delete(s.modules, moduleID)
}

// CreateModule implements CourseStore.CreateModule
func (s *MemoryStore) CreateModule(ctx context.Context, module *domain.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[module.CourseID]; !ok {
		return domain.NotFound("CreateModule", "course", module.CourseID)
	}

	s.nextModuleID++
	module.ID = s.nextModuleID
	module.CreatedAt = s.now()
	s.modules[module.ID] = copyModule(module)
	return nil
}

// GetModule implements CourseStore.GetModule
func (s *MemoryStore) GetModule(ctx context.Context, id int64) (*domain.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.modules[id]
	if !ok {
		return nil, domain.NotFound("GetModule", "module", id)
	}
	return copyModule(m), nil
}

// ListModules implements CourseStore.ListModules
func (s *MemoryStore) ListModules(ctx context.Context, courseID int64) ([]*domain.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modules := make([]*domain.Module, 0)
	for _, m := range s.modules {
		if m.CourseID == courseID {
			modules = append(modules, copyModule(m))
		}
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Order != modules[j].Order {
			return modules[i].Order < modules[j].Order
		}
		return modules[i].ID < modules[j].ID
	})
	return modules, nil
}

// ListModuleCourses implements CourseStore.ListModuleCourses
func (s *MemoryStore) ListModuleCourses(ctx context.Context) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[int64]int64, len(s.modules))
	for id, m := range s.modules {
		owners[id] = m.CourseID
	}
	return owners, nil
}

// UpdateModule implements CourseStore.UpdateModule
func (s *MemoryStore) UpdateModule(ctx context.Context, module *domain.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.modules[module.ID]
	if !ok {
		return domain.NotFound("UpdateModule", "module", module.ID)
	}
	existing.Title = module.Title
	existing.Order = module.Order

	module.CourseID = existing.CourseID
	module.CreatedAt = existing.CreatedAt
	return nil
}

// DeleteModule implements CourseStore.DeleteModule
func (s *MemoryStore) DeleteModule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[id]
	if !ok {
		return domain.NotFound("DeleteModule", "module", id)
	}
	courseID := m.CourseID

	affected := make(map[int64]struct{})
	s.deleteModuleLocked(id, affected)
	for userID := range affected {
		s.recomputeUserLocked(userID)
	}
	s.recomputeCourseLocked(courseID)
	return nil
}

// CreateLesson implements CourseStore.CreateLesson
func (s *MemoryStore) CreateLesson(ctx context.Context, lesson *domain.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[lesson.ModuleID]; !ok {
		return domain.NotFound("CreateLesson", "module", lesson.ModuleID)
	}

	s.nextLessonID++
	lesson.ID = s.nextLessonID
	lesson.CreatedAt = s.now()
	s.lessons[lesson.ID] = copyLesson(lesson)
	return nil
}

// GetLesson implements CourseStore.GetLesson
func (s *MemoryStore) GetLesson(ctx context.Context, id int64) (*domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lessons[id]
	if !ok {
		return nil, domain.NotFound("GetLesson", "lesson", id)
	}
	return copyLesson(l), nil
}

// ListLessonsByCourse implements CourseStore.ListLessonsByCourse
func (s *MemoryStore) ListLessonsByCourse(ctx context.Context, courseID int64) (map[int64][]*domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModule := make(map[int64][]*domain.Lesson)
	for _, l := range s.lessons {
		m, ok := s.modules[l.ModuleID]
		if !ok || m.CourseID != courseID {
			continue
		}
		byModule[l.ModuleID] = append(byModule[l.ModuleID], copyLesson(l))
	}
	for _, lessons := range byModule {
		sort.Slice(lessons, func(i, j int) bool {
			if lessons[i].Order != lessons[j].Order {
				return lessons[i].Order < lessons[j].Order
			}
			return lessons[i].ID < lessons[j].ID
		})
	}
	return byModule, nil
}

// UpdateLesson implements CourseStore.UpdateLesson
func (s *MemoryStore) UpdateLesson(ctx context.Context, lesson *domain.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.lessons[lesson.ID]
	if !ok {
		return domain.NotFound("UpdateLesson", "lesson", lesson.ID)
	}
	existing.Title = lesson.Title
	existing.Content = lesson.Content
	existing.VideoURL = lesson.VideoURL
	existing.Order = lesson.Order

	lesson.ModuleID = existing.ModuleID
	lesson.CreatedAt = existing.CreatedAt
	return nil
}

// DeleteLesson implements CourseStore.DeleteLesson
func (s *MemoryStore) DeleteLesson(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lessons[id]; !ok {
		return domain.NotFound("DeleteLesson", "lesson", id)
	}
	delete(s.lessons, id)
	return nil
}

// recomputeUserLocked rebuilds the user's course cache from grants and
// reports whether it changed
func (s *MemoryStore) recomputeUserLocked(userID int64) bool {
	u, ok := s.users[userID]
	if !ok {
		return false
	}
	set := make(map[int64]struct{})
	for key := range s.grants {
		if key.userID != userID {
			continue
		}
		if m, ok := s.modules[key.moduleID]; ok {
			set[m.CourseID] = struct{}{}
		}
	}
	ids := sortedIDs(set)
	if equalIDs(u.AccessibleCourseIDs, ids) {
		return false
	}
	u.AccessibleCourseIDs = ids
	return true
}

// recomputeCourseLocked rebuilds the course's user cache from grants and
// reports whether it changed
func (s *MemoryStore) recomputeCourseLocked(courseID int64) bool {
	c, ok := s.courses[courseID]
	if !ok {
		return false
	}
	set := make(map[int64]struct{})
	for key := range s.grants {
		if m, ok := s.modules[key.moduleID]; ok && m.CourseID == courseID {
			set[key.userID] = struct{}{}
		}
	}
	ids := sortedIDs(set)
	if equalIDs(c.UserAccessIDs, ids) {
		return false
	}
	c.UserAccessIDs = ids
	return true
}

func (s *MemoryStore) resolveGrantTargetLocked(op string, userID, moduleID int64) (*domain.Module, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, domain.NotFound(op, "user", userID)
	}
	m, ok := s.modules[moduleID]
	if !ok {
		return nil, domain.NotFound(op, "module", moduleID)
	}
	return m, nil
}

// InsertGrant implements AccessStore.InsertGrant
func (s *MemoryStore) InsertGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.resolveGrantTargetLocked("InsertGrant", userID, moduleID)
	if err != nil {
		return false, err
	}

	key := grantKey{userID: userID, moduleID: moduleID}
	if _, exists := s.grants[key]; exists {
		return false, nil
	}
	s.grants[key] = s.now()
	s.recomputeUserLocked(userID)
	s.recomputeCourseLocked(m.CourseID)
	return true, nil
}

// DeleteGrant implements AccessStore.DeleteGrant
func (s *MemoryStore) DeleteGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.resolveGrantTargetLocked("DeleteGrant", userID, moduleID)
	if err != nil {
		return false, err
	}

	key := grantKey{userID: userID, moduleID: moduleID}
	if _, exists := s.grants[key]; !exists {
		return false, nil
	}
	delete(s.grants, key)
	s.recomputeUserLocked(userID)
	s.recomputeCourseLocked(m.CourseID)
	return true, nil
}

// ReplaceCourseGrants implements AccessStore.ReplaceCourseGrants
func (s *MemoryStore) ReplaceCourseGrants(ctx context.Context, userID, courseID int64, moduleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "ReplaceCourseGrants"
	if _, ok := s.users[userID]; !ok {
		return domain.NotFound(op, "user", userID)
	}
	if _, ok := s.courses[courseID]; !ok {
		return domain.NotFound(op, "course", courseID)
	}

	desired := make(map[int64]struct{}, len(moduleIDs))
	for _, moduleID := range moduleIDs {
		m, ok := s.modules[moduleID]
		if !ok {
			return domain.NotFound(op, "module", moduleID)
		}
		if m.CourseID != courseID {
			return domain.E(domain.KindInvalidReference, op, "module %d does not belong to course %d", moduleID, courseID)
		}
		desired[moduleID] = struct{}{}
	}

	for key := range s.grants {
		if key.userID != userID {
			continue
		}
		m, ok := s.modules[key.moduleID]
		if !ok || m.CourseID != courseID {
			continue
		}
		if _, keep := desired[key.moduleID]; !keep {
			delete(s.grants, key)
		}
	}
	// modules that stay granted keep their original grant time
	now := s.now()
	for moduleID := range desired {
		key := grantKey{userID: userID, moduleID: moduleID}
		if _, exists := s.grants[key]; !exists {
			s.grants[key] = now
		}
	}

	s.recomputeUserLocked(userID)
	s.recomputeCourseLocked(courseID)
	return nil
}

// GrantAllCourseModules implements AccessStore.GrantAllCourseModules
func (s *MemoryStore) GrantAllCourseModules(ctx context.Context, userID, courseID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "GrantAllCourseModules"
	if _, ok := s.users[userID]; !ok {
		return nil, domain.NotFound(op, "user", userID)
	}
	if _, ok := s.courses[courseID]; !ok {
		return nil, domain.NotFound(op, "course", courseID)
	}

	set := make(map[int64]struct{})
	now := s.now()
	for id, m := range s.modules {
		if m.CourseID != courseID {
			continue
		}
		set[id] = struct{}{}
		key := grantKey{userID: userID, moduleID: id}
		if _, exists := s.grants[key]; !exists {
			s.grants[key] = now
		}
	}

	s.recomputeUserLocked(userID)
	s.recomputeCourseLocked(courseID)
	return sortedIDs(set), nil
}

// HasGrant implements AccessStore.HasGrant
func (s *MemoryStore) HasGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.grants[grantKey{userID: userID, moduleID: moduleID}]
	return ok, nil
}

// HasCourseGrant implements AccessStore.HasCourseGrant
func (s *MemoryStore) HasCourseGrant(ctx context.Context, userID, courseID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key := range s.grants {
		if key.userID != userID {
			continue
		}
		if m, ok := s.modules[key.moduleID]; ok && m.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

// ListGrantedModules implements AccessStore.ListGrantedModules
func (s *MemoryStore) ListGrantedModules(ctx context.Context, userID, courseID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[int64]struct{})
	for key := range s.grants {
		if key.userID != userID {
			continue
		}
		if m, ok := s.modules[key.moduleID]; ok && m.CourseID == courseID {
			set[key.moduleID] = struct{}{}
		}
	}
	return sortedIDs(set), nil
}

// ListAllGrantedModules implements AccessStore.ListAllGrantedModules
func (s *MemoryStore) ListAllGrantedModules(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[int64]struct{})
	for key := range s.grants {
		if key.userID == userID {
			set[key.moduleID] = struct{}{}
		}
	}
	return sortedIDs(set), nil
}

// ListCourseUsers implements AccessStore.ListCourseUsers
func (s *MemoryStore) ListCourseUsers(ctx context.Context, courseID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.courses[courseID]; !ok {
		return nil, domain.NotFound("ListCourseUsers", "course", courseID)
	}

	set := make(map[int64]struct{})
	for key := range s.grants {
		if m, ok := s.modules[key.moduleID]; ok && m.CourseID == courseID {
			set[key.userID] = struct{}{}
		}
	}
	return sortedIDs(set), nil
}

// RebuildCaches implements AccessStore.RebuildCaches
func (s *MemoryStore) RebuildCaches(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for userID := range s.users {
		if s.recomputeUserLocked(userID) {
			changed++
		}
	}
	for courseID := range s.courses {
		if s.recomputeCourseLocked(courseID) {
			changed++
		}
	}
	return changed, nil
}

// HealthCheck implements RecordStore.HealthCheck
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close implements RecordStore.Close
func (s *MemoryStore) Close() error {
	return nil
}

var _ RecordStore = (*MemoryStore)(nil)
