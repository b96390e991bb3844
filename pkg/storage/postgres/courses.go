package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

const courseColumns = `id, seller_id, name, category, description, image_url, video_url, pdf_url, user_access_ids, created_at, updated_at`

func scanCourse(row rowScanner) (*domain.Course, error) {
	var c domain.Course
	ids := []int64{}
	err := row.Scan(&c.ID, &c.SellerID, &c.Name, &c.Category, &c.Description,
		&c.Attachments.ImageURL, &c.Attachments.VideoURL, &c.Attachments.PDFURL,
		pq.Array(&ids), &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.UserAccessIDs = ids
	return &c, nil
}

func (s *Store) queryCourses(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Course, error) {
	rows, err := s.replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	courses := make([]*domain.Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		courses = append(courses, c)
	}
	return courses, wrapErr(op, rows.Err())
}

// CreateCourse implements storage.CourseStore.CreateCourse
func (s *Store) CreateCourse(ctx context.Context, course *domain.Course) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO courses (seller_id, name, category, description, image_url, video_url, pdf_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		course.SellerID, course.Name, course.Category, course.Description,
		course.Attachments.ImageURL, course.Attachments.VideoURL, course.Attachments.PDFURL,
	).Scan(&course.ID, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return domain.NotFound("CreateCourse", "user", course.SellerID)
		}
		return wrapErr("CreateCourse", err)
	}
	course.UserAccessIDs = []int64{}
	return nil
}

// GetCourse implements storage.CourseStore.GetCourse
func (s *Store) GetCourse(ctx context.Context, id int64) (*domain.Course, error) {
	c, err := scanCourse(s.primary().QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("GetCourse", "course", id)
	}
	if err != nil {
		return nil, wrapErr("GetCourse", err)
	}
	return c, nil
}

// ListCourses implements storage.CourseStore.ListCourses
func (s *Store) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	return s.queryCourses(ctx, "ListCourses", `SELECT `+courseColumns+` FROM courses ORDER BY id`)
}

// ListCoursesBySeller implements storage.CourseStore.ListCoursesBySeller
func (s *Store) ListCoursesBySeller(ctx context.Context, sellerID int64) ([]*domain.Course, error) {
	return s.queryCourses(ctx, "ListCoursesBySeller",
		`SELECT `+courseColumns+` FROM courses WHERE seller_id = $1 ORDER BY id`, sellerID)
}

// UpdateCourse implements storage.CourseStore.UpdateCourse
func (s *Store) UpdateCourse(ctx context.Context, course *domain.Course) error {
	ids := []int64{}
	err := s.primary().QueryRowContext(ctx, `
		UPDATE courses
		SET name = $2, category = $3, description = $4,
		    image_url = $5, video_url = $6, pdf_url = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING seller_id, user_access_ids, created_at, updated_at`,
		course.ID, course.Name, course.Category, course.Description,
		course.Attachments.ImageURL, course.Attachments.VideoURL, course.Attachments.PDFURL,
	).Scan(&course.SellerID, pq.Array(&ids), &course.CreatedAt, &course.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("UpdateCourse", "course", course.ID)
	}
	if err != nil {
		return wrapErr("UpdateCourse", err)
	}
	course.UserAccessIDs = ids
	return nil
}

// DeleteCourse implements storage.CourseStore.DeleteCourse. Modules, lessons
// and grants go with the course through ON DELETE CASCADE; the caches of
// users who held grants are recomputed in the same transaction.
func (s *Store) DeleteCourse(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("course.id", id)}
	return s.withTx(ctx, "DeleteCourse", attrs, func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound("DeleteCourse", "course", id)
		}
		if err != nil {
			return err
		}

		affected, err := collectIDs(ctx, tx, `SELECT DISTINCT user_id FROM access_grants WHERE course_id = $1`, id)
		if err != nil {
			return err
		}

		if err := lockUsers(ctx, tx, affected); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id); err != nil {
			return err
		}

		return recomputeUsers(ctx, tx, affected)
	})
}

// CreateModule implements storage.CourseStore.CreateModule
func (s *Store) CreateModule(ctx context.Context, module *domain.Module) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO modules (course_id, title, position)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		module.CourseID, module.Title, module.Order,
	).Scan(&module.ID, &module.CreatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return domain.NotFound("CreateModule", "course", module.CourseID)
		}
		return wrapErr("CreateModule", err)
	}
	return nil
}

const moduleColumns = `id, course_id, title, position, created_at`

func scanModule(row rowScanner) (*domain.Module, error) {
	var m domain.Module
	if err := row.Scan(&m.ID, &m.CourseID, &m.Title, &m.Order, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModule implements storage.CourseStore.GetModule
func (s *Store) GetModule(ctx context.Context, id int64) (*domain.Module, error) {
	m, err := scanModule(s.primary().QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("GetModule", "module", id)
	}
	if err != nil {
		return nil, wrapErr("GetModule", err)
	}
	return m, nil
}

// ListModules implements storage.CourseStore.ListModules
func (s *Store) ListModules(ctx context.Context, courseID int64) ([]*domain.Module, error) {
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE course_id = $1 ORDER BY position, id`, courseID)
	if err != nil {
		return nil, wrapErr("ListModules", err)
	}
	defer rows.Close()

	modules := make([]*domain.Module, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, wrapErr("ListModules", err)
		}
		modules = append(modules, m)
	}
	return modules, wrapErr("ListModules", rows.Err())
}

// ListModuleCourses implements storage.CourseStore.ListModuleCourses
func (s *Store) ListModuleCourses(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.replica().QueryContext(ctx, `SELECT id, course_id FROM modules`)
	if err != nil {
		return nil, wrapErr("ListModuleCourses", err)
	}
	defer rows.Close()

	owners := make(map[int64]int64)
	for rows.Next() {
		var moduleID, courseID int64
		if err := rows.Scan(&moduleID, &courseID); err != nil {
			return nil, wrapErr("ListModuleCourses", err)
		}
		owners[moduleID] = courseID
	}
	return owners, wrapErr("ListModuleCourses", rows.Err())
}

// UpdateModule implements storage.CourseStore.UpdateModule
func (s *Store) UpdateModule(ctx context.Context, module *domain.Module) error {
	err := s.primary().QueryRowContext(ctx, `
		UPDATE modules SET title = $2, position = $3
		WHERE id = $1
		RETURNING course_id, created_at`,
		module.ID, module.Title, module.Order,
	).Scan(&module.CourseID, &module.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("UpdateModule", "module", module.ID)
	}
	return wrapErr("UpdateModule", err)
}

// DeleteModule implements storage.CourseStore.DeleteModule
func (s *Store) DeleteModule(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("module.id", id)}
	return s.withTx(ctx, "DeleteModule", attrs, func(tx *sql.Tx) error {
		var courseID int64
		err := tx.QueryRowContext(ctx, `SELECT course_id FROM modules WHERE id = $1 FOR UPDATE`, id).Scan(&courseID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound("DeleteModule", "module", id)
		}
		if err != nil {
			return err
		}

		affected, err := collectIDs(ctx, tx, `SELECT DISTINCT user_id FROM access_grants WHERE module_id = $1`, id)
		if err != nil {
			return err
		}

		if err := lockUsers(ctx, tx, affected); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM modules WHERE id = $1`, id); err != nil {
			return err
		}

		if err := recomputeUsers(ctx, tx, affected); err != nil {
			return err
		}
		return recomputeCourses(ctx, tx, []int64{courseID})
	})
}

const lessonColumns = `id, module_id, title, content, video_url, position, created_at`

func scanLesson(row rowScanner) (*domain.Lesson, error) {
	var l domain.Lesson
	if err := row.Scan(&l.ID, &l.ModuleID, &l.Title, &l.Content, &l.VideoURL, &l.Order, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLesson implements storage.CourseStore.CreateLesson
func (s *Store) CreateLesson(ctx context.Context, lesson *domain.Lesson) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO lessons (module_id, title, content, video_url, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		lesson.ModuleID, lesson.Title, lesson.Content, lesson.VideoURL, lesson.Order,
	).Scan(&lesson.ID, &lesson.CreatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return domain.NotFound("CreateLesson", "module", lesson.ModuleID)
		}
		return wrapErr("CreateLesson", err)
	}
	return nil
}

// GetLesson implements storage.CourseStore.GetLesson
func (s *Store) GetLesson(ctx context.Context, id int64) (*domain.Lesson, error) {
	l, err := scanLesson(s.primary().QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("GetLesson", "lesson", id)
	}
	if err != nil {
		return nil, wrapErr("GetLesson", err)
	}
	return l, nil
}

// ListLessonsByCourse implements storage.CourseStore.ListLessonsByCourse
func (s *Store) ListLessonsByCourse(ctx context.Context, courseID int64) (map[int64][]*domain.Lesson, error) {
	rows, err := s.replica().QueryContext(ctx, `
		SELECT l.id, l.module_id, l.title, l.content, l.video_url, l.position, l.created_at
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE m.course_id = $1
		ORDER BY l.module_id, l.position, l.id`, courseID)
	if err != nil {
		return nil, wrapErr("ListLessonsByCourse", err)
	}
	defer rows.Close()

	byModule := make(map[int64][]*domain.Lesson)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, wrapErr("ListLessonsByCourse", err)
		}
		byModule[l.ModuleID] = append(byModule[l.ModuleID], l)
	}
	return byModule, wrapErr("ListLessonsByCourse", rows.Err())
}

// UpdateLesson implements storage.CourseStore.UpdateLesson
func (s *Store) UpdateLesson(ctx context.Context, lesson *domain.Lesson) error {
	err := s.primary().QueryRowContext(ctx, `
		UPDATE lessons SET title = $2, content = $3, video_url = $4, position = $5
		WHERE id = $1
		RETURNING module_id, created_at`,
		lesson.ID, lesson.Title, lesson.Content, lesson.VideoURL, lesson.Order,
	).Scan(&lesson.ModuleID, &lesson.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("UpdateLesson", "lesson", lesson.ID)
	}
	return wrapErr("UpdateLesson", err)
}

// DeleteLesson implements storage.CourseStore.DeleteLesson
func (s *Store) DeleteLesson(ctx context.Context, id int64) error {
	res, err := s.primary().ExecContext(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return wrapErr("DeleteLesson", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("DeleteLesson", err)
	}
	if n == 0 {
		return domain.NotFound("DeleteLesson", "lesson", id)
	}
	return nil
}
