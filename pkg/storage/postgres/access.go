package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

// The derived caches are always rebuilt from access_grants, never patched.
const (
	recomputeUsersSQL = `
		UPDATE users u
		SET accessible_course_ids = COALESCE(
			(SELECT array_agg(DISTINCT g.course_id ORDER BY g.course_id)
			 FROM access_grants g WHERE g.user_id = u.id), '{}')
		WHERE u.id = ANY($1)`

	recomputeCoursesSQL = `
		UPDATE courses c
		SET user_access_ids = COALESCE(
			(SELECT array_agg(DISTINCT g.user_id ORDER BY g.user_id)
			 FROM access_grants g WHERE g.course_id = c.id), '{}')
		WHERE c.id = ANY($1)`

	rebuildUsersSQL = `
		WITH desired AS (
			SELECT u.id, COALESCE(
				(SELECT array_agg(DISTINCT g.course_id ORDER BY g.course_id)
				 FROM access_grants g WHERE g.user_id = u.id), '{}') AS ids
			FROM users u
		)
		UPDATE users u SET accessible_course_ids = d.ids
		FROM desired d
		WHERE u.id = d.id AND u.accessible_course_ids IS DISTINCT FROM d.ids`

	rebuildCoursesSQL = `
		WITH desired AS (
			SELECT c.id, COALESCE(
				(SELECT array_agg(DISTINCT g.user_id ORDER BY g.user_id)
				 FROM access_grants g WHERE g.course_id = c.id), '{}') AS ids
			FROM courses c
		)
		UPDATE courses c SET user_access_ids = d.ids
		FROM desired d
		WHERE c.id = d.id AND c.user_access_ids IS DISTINCT FROM d.ids`
)

func recomputeUsers(ctx context.Context, tx *sql.Tx, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, recomputeUsersSQL, pq.Array(userIDs))
	return err
}

func recomputeCourses(ctx context.Context, tx *sql.Tx, courseIDs []int64) error {
	if len(courseIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, recomputeCoursesSQL, pq.Array(courseIDs))
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func collectIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// lockUser takes the row lock that serializes access mutations for a user
func lockUser(ctx context.Context, tx *sql.Tx, op string, userID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "user", userID)
	}
	return err
}

// lockUsers locks the rows of users whose caches a cascade is about to
// recompute. Ids are locked in ascending order. A deadlock against a grant
// in flight surfaces as a retryable storage failure.
func lockUsers(ctx context.Context, tx *sql.Tx, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := collectIDs(ctx, tx,
		`SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(userIDs))
	return err
}

// lockCourse takes the course row after the user row. Writers touching the
// same course queue here, so each recompute of user_access_ids reads grants
// committed by the writer before it.
func lockCourse(ctx context.Context, tx *sql.Tx, op string, courseID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM courses WHERE id = $1 FOR NO KEY UPDATE`, courseID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "course", courseID)
	}
	return err
}

func moduleCourse(ctx context.Context, tx *sql.Tx, op string, moduleID int64) (int64, error) {
	var courseID int64
	err := tx.QueryRowContext(ctx, `SELECT course_id FROM modules WHERE id = $1`, moduleID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NotFound(op, "module", moduleID)
	}
	return courseID, err
}

func grantAttrs(userID, moduleID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("user.id", userID),
		attribute.Int64("module.id", moduleID),
	}
}

// InsertGrant implements storage.AccessStore.InsertGrant
func (s *Store) InsertGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	const op = "InsertGrant"
	created := false
	err := s.withTx(ctx, op, grantAttrs(userID, moduleID), func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, op, userID); err != nil {
			return err
		}
		courseID, err := moduleCourse(ctx, tx, op, moduleID)
		if err != nil {
			return err
		}
		if err := lockCourse(ctx, tx, op, courseID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO access_grants (user_id, module_id, course_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, userID, moduleID, courseID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		if err := recomputeUsers(ctx, tx, []int64{userID}); err != nil {
			return err
		}
		return recomputeCourses(ctx, tx, []int64{courseID})
	})
	return created, err
}

// DeleteGrant implements storage.AccessStore.DeleteGrant
func (s *Store) DeleteGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	const op = "DeleteGrant"
	removed := false
	err := s.withTx(ctx, op, grantAttrs(userID, moduleID), func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, op, userID); err != nil {
			return err
		}
		courseID, err := moduleCourse(ctx, tx, op, moduleID)
		if err != nil {
			return err
		}
		if err := lockCourse(ctx, tx, op, courseID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM access_grants WHERE user_id = $1 AND module_id = $2`, userID, moduleID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0

		if err := recomputeUsers(ctx, tx, []int64{userID}); err != nil {
			return err
		}
		return recomputeCourses(ctx, tx, []int64{courseID})
	})
	return removed, err
}

func dedupeSorted(ids []int64) []int64 {
	set := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplaceCourseGrants implements storage.AccessStore.ReplaceCourseGrants
func (s *Store) ReplaceCourseGrants(ctx context.Context, userID, courseID int64, moduleIDs []int64) error {
	const op = "ReplaceCourseGrants"
	desired := dedupeSorted(moduleIDs)
	attrs := []attribute.KeyValue{
		attribute.Int64("user.id", userID),
		attribute.Int64("course.id", courseID),
		attribute.Int("modules.count", len(desired)),
	}

	return s.withTx(ctx, op, attrs, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, op, userID); err != nil {
			return err
		}

		if err := lockCourse(ctx, tx, op, courseID); err != nil {
			return err
		}

		if len(desired) > 0 {
			rows, err := tx.QueryContext(ctx, `SELECT id, course_id FROM modules WHERE id = ANY($1)`, pq.Array(desired))
			if err != nil {
				return err
			}
			owner := make(map[int64]int64, len(desired))
			for rows.Next() {
				var id, cid int64
				if err := rows.Scan(&id, &cid); err != nil {
					rows.Close()
					return err
				}
				owner[id] = cid
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for _, id := range desired {
				cid, ok := owner[id]
				if !ok {
					return domain.NotFound(op, "module", id)
				}
				if cid != courseID {
					return domain.E(domain.KindInvalidReference, op, "module %d does not belong to course %d", id, courseID)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM access_grants
			WHERE user_id = $1 AND course_id = $2 AND NOT (module_id = ANY($3))`,
			userID, courseID, pq.Array(desired)); err != nil {
			return err
		}

		if len(desired) > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO access_grants (user_id, module_id, course_id)
				SELECT $1::bigint, m, $3::bigint FROM unnest($2::bigint[]) AS m
				ON CONFLICT DO NOTHING`,
				userID, pq.Array(desired), courseID); err != nil {
				return err
			}
		}

		if err := recomputeUsers(ctx, tx, []int64{userID}); err != nil {
			return err
		}
		return recomputeCourses(ctx, tx, []int64{courseID})
	})
}

// GrantAllCourseModules implements storage.AccessStore.GrantAllCourseModules
func (s *Store) GrantAllCourseModules(ctx context.Context, userID, courseID int64) ([]int64, error) {
	const op = "GrantAllCourseModules"
	attrs := []attribute.KeyValue{
		attribute.Int64("user.id", userID),
		attribute.Int64("course.id", courseID),
	}

	var moduleIDs []int64
	err := s.withTx(ctx, op, attrs, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, op, userID); err != nil {
			return err
		}
		if err := lockCourse(ctx, tx, op, courseID); err != nil {
			return err
		}

		// KEY SHARE keeps the listed modules from being deleted before the insert
		ids, err := collectIDs(ctx, tx,
			`SELECT id FROM modules WHERE course_id = $1 ORDER BY id FOR KEY SHARE`, courseID)
		if err != nil {
			return err
		}
		moduleIDs = ids

		if len(ids) > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO access_grants (user_id, module_id, course_id)
				SELECT $1::bigint, m, $3::bigint FROM unnest($2::bigint[]) AS m
				ON CONFLICT DO NOTHING`,
				userID, pq.Array(ids), courseID); err != nil {
				return err
			}
		}

		if err := recomputeUsers(ctx, tx, []int64{userID}); err != nil {
			return err
		}
		return recomputeCourses(ctx, tx, []int64{courseID})
	})
	return moduleIDs, err
}

// HasGrant implements storage.AccessStore.HasGrant
func (s *Store) HasGrant(ctx context.Context, userID, moduleID int64) (bool, error) {
	var ok bool
	err := s.primary().QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM access_grants WHERE user_id = $1 AND module_id = $2)`,
		userID, moduleID).Scan(&ok)
	return ok, wrapErr("HasGrant", err)
}

// HasCourseGrant implements storage.AccessStore.HasCourseGrant
func (s *Store) HasCourseGrant(ctx context.Context, userID, courseID int64) (bool, error) {
	var ok bool
	err := s.primary().QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM access_grants WHERE user_id = $1 AND course_id = $2)`,
		userID, courseID).Scan(&ok)
	return ok, wrapErr("HasCourseGrant", err)
}

// ListGrantedModules implements storage.AccessStore.ListGrantedModules
func (s *Store) ListGrantedModules(ctx context.Context, userID, courseID int64) ([]int64, error) {
	ids, err := collectIDs(ctx, s.primary(),
		`SELECT module_id FROM access_grants WHERE user_id = $1 AND course_id = $2 ORDER BY module_id`,
		userID, courseID)
	return ids, wrapErr("ListGrantedModules", err)
}

// ListAllGrantedModules implements storage.AccessStore.ListAllGrantedModules
func (s *Store) ListAllGrantedModules(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := collectIDs(ctx, s.primary(),
		`SELECT module_id FROM access_grants WHERE user_id = $1 ORDER BY module_id`, userID)
	return ids, wrapErr("ListAllGrantedModules", err)
}

// ListCourseUsers implements storage.AccessStore.ListCourseUsers
func (s *Store) ListCourseUsers(ctx context.Context, courseID int64) ([]int64, error) {
	var exists bool
	if err := s.primary().QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists); err != nil {
		return nil, wrapErr("ListCourseUsers", err)
	}
	if !exists {
		return nil, domain.NotFound("ListCourseUsers", "course", courseID)
	}

	ids, err := collectIDs(ctx, s.primary(),
		`SELECT DISTINCT user_id FROM access_grants WHERE course_id = $1 ORDER BY user_id`, courseID)
	return ids, wrapErr("ListCourseUsers", err)
}

// RebuildCaches implements storage.AccessStore.RebuildCaches
func (s *Store) RebuildCaches(ctx context.Context) (int, error) {
	changed := 0
	err := s.withTx(ctx, "RebuildCaches", nil, func(tx *sql.Tx) error {
		for _, stmt := range []string{rebuildUsersSQL, rebuildCoursesSQL} {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			changed += int(n)
		}
		return nil
	})
	return changed, err
}
