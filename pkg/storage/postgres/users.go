package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

const userColumns = `id, name, email, password_hash, role, accessible_course_ids, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var role string
	ids := []int64{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, pq.Array(&ids), &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.AccessibleCourseIDs = ids
	return &u, nil
}

func (s *Store) queryUsers(ctx context.Context, db *sql.DB, op, query string, args ...interface{}) ([]*domain.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		users = append(users, u)
	}
	return users, wrapErr(op, rows.Err())
}

// CreateUser implements storage.UserStore.CreateUser
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash, string(user.Role),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return domain.E(domain.KindConflict, "CreateUser", "email already registered")
		}
		return wrapErr("CreateUser", err)
	}
	user.AccessibleCourseIDs = []int64{}
	return nil
}

// GetUser implements storage.UserStore.GetUser
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.primary().QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("GetUser", "user", id)
	}
	if err != nil {
		return nil, wrapErr("GetUser", err)
	}
	return u, nil
}

// GetUserByEmail implements storage.UserStore.GetUserByEmail
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.primary().QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.KindNotFound, "GetUserByEmail", "user not found")
	}
	if err != nil {
		return nil, wrapErr("GetUserByEmail", err)
	}
	return u, nil
}

// ListUsers implements storage.UserStore.ListUsers
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.queryUsers(ctx, s.replica(), "ListUsers",
		`SELECT `+userColumns+` FROM users ORDER BY id`)
}

// GetUsersByIDs implements storage.UserStore.GetUsersByIDs
func (s *Store) GetUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	return s.queryUsers(ctx, s.replica(), "GetUsersByIDs",
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
}
