package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; each entry runs once inside its own transaction
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                    BIGSERIAL PRIMARY KEY,
		name                  TEXT NOT NULL,
		email                 TEXT NOT NULL,
		password_hash         TEXT NOT NULL,
		role                  TEXT NOT NULL CHECK (role IN ('USER', 'VENDEDOR')),
		accessible_course_ids BIGINT[] NOT NULL DEFAULT '{}',
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email));

	CREATE TABLE IF NOT EXISTS courses (
		id              BIGSERIAL PRIMARY KEY,
		seller_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name            TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		image_url       TEXT NOT NULL DEFAULT '',
		video_url       TEXT NOT NULL DEFAULT '',
		pdf_url         TEXT NOT NULL DEFAULT '',
		user_access_ids BIGINT[] NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS courses_seller_idx ON courses (seller_id);

	CREATE TABLE IF NOT EXISTS modules (
		id         BIGSERIAL PRIMARY KEY,
		course_id  BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		position   INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS modules_course_idx ON modules (course_id, position, id);

	CREATE TABLE IF NOT EXISTS lessons (
		id         BIGSERIAL PRIMARY KEY,
		module_id  BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		video_url  TEXT NOT NULL DEFAULT '',
		position   INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS lessons_module_idx ON lessons (module_id, position, id);

	CREATE TABLE IF NOT EXISTS access_grants (
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		module_id  BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		course_id  BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, module_id)
	);
	CREATE INDEX IF NOT EXISTS access_grants_course_idx ON access_grants (course_id, user_id);`,
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate brings the schema up to date and returns how many migrations ran
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0
	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("migration %d: begin: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d: record version: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("migration %d: commit: %w", version, err)
		}
		applied++
	}

	return applied, nil
}
