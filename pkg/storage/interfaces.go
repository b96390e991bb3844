package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
}

// CourseStore persists courses and their module/lesson tree. Deleting a
// course removes its modules, their lessons and every grant on those modules,
// and recomputes the access caches of the affected users.
type CourseStore interface {
	CreateCourse(ctx context.Context, course *domain.Course) error
	GetCourse(ctx context.Context, id int64) (*domain.Course, error)
	// ListCourses returns every course ordered by id ascending
	ListCourses(ctx context.Context) ([]*domain.Course, error)
	ListCoursesBySeller(ctx context.Context, sellerID int64) ([]*domain.Course, error)
	UpdateCourse(ctx context.Context, course *domain.Course) error
	DeleteCourse(ctx context.Context, id int64) error

	CreateModule(ctx context.Context, module *domain.Module) error
	GetModule(ctx context.Context, id int64) (*domain.Module, error)
	// ListModules returns the course's modules ordered by (order, id)
	ListModules(ctx context.Context, courseID int64) ([]*domain.Module, error)
	// ListModuleCourses maps every module id to its course id
	ListModuleCourses(ctx context.Context) (map[int64]int64, error)
	UpdateModule(ctx context.Context, module *domain.Module) error
	DeleteModule(ctx context.Context, id int64) error

	CreateLesson(ctx context.Context, lesson *domain.Lesson) error
	GetLesson(ctx context.Context, id int64) (*domain.Lesson, error)
	// ListLessonsByCourse returns lessons keyed by module id, each ordered by (order, id)
	ListLessonsByCourse(ctx context.Context, courseID int64) (map[int64][]*domain.Lesson, error)
	UpdateLesson(ctx context.Context, lesson *domain.Lesson) error
	DeleteLesson(ctx context.Context, id int64) error
}

// AccessStore owns the grant relation. Every mutation applies the grant
// change and recomputes both derived caches atomically.
type AccessStore interface {
	// InsertGrant adds the grant if absent and reports whether it was created
	InsertGrant(ctx context.Context, userID, moduleID int64) (bool, error)
	// DeleteGrant removes the grant if present and reports whether it existed
	DeleteGrant(ctx context.Context, userID, moduleID int64) (bool, error)
	// ReplaceCourseGrants makes the user's grants on the course's modules
	// exactly moduleIDs. Ids are validated before anything is written.
	ReplaceCourseGrants(ctx context.Context, userID, courseID int64, moduleIDs []int64) error
	// GrantAllCourseModules grants every module the course has when the call
	// runs and returns those module ids, ascending
	GrantAllCourseModules(ctx context.Context, userID, courseID int64) ([]int64, error)

	HasGrant(ctx context.Context, userID, moduleID int64) (bool, error)
	HasCourseGrant(ctx context.Context, userID, courseID int64) (bool, error)
	// ListGrantedModules returns the user's granted modules on the course, ascending
	ListGrantedModules(ctx context.Context, userID, courseID int64) ([]int64, error)
	// ListAllGrantedModules returns every module the user holds a grant on
	ListAllGrantedModules(ctx context.Context, userID int64) ([]int64, error)
	// ListCourseUsers returns the users holding any grant on the course, ascending
	ListCourseUsers(ctx context.Context, courseID int64) ([]int64, error)

	// RebuildCaches recomputes every derived cache and returns how many rows changed
	RebuildCaches(ctx context.Context) (int, error)
}

// RecordStore is the full persistence surface used by the service
type RecordStore interface {
	UserStore
	CourseStore
	AccessStore
	HealthCheck(ctx context.Context) error
	Close() error
}

// Handle identifies a stored blob
type Handle string

// BlobStore stores attachment bytes. Handles are opaque to callers.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType, name string) (Handle, error)
	// Get returns the bytes and content type; a missing handle is KindNotFound
	Get(ctx context.Context, handle Handle) ([]byte, string, error)
	Delete(ctx context.Context, handle Handle) error
	HealthCheck(ctx context.Context) error
}

// Config for storage backends
type Config struct {
	// Record store: "memory" or "postgres"
	DatabaseMode string `yaml:"database_mode"`

	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"` // comma-separated
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`

	// Blob store: "filesystem" or "s3"
	BlobBackend    string `yaml:"blob_backend"`
	FilesystemRoot string `yaml:"filesystem_root"`

	// S3 config
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3Region         string `yaml:"s3_region"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3AccessKey      string `yaml:"s3_access_key"`
	S3SecretKey      string `yaml:"s3_secret_key"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`

	// Redis config. Empty URL disables distributed locks and rate limits.
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"

	BlobFilesystem = "filesystem"
	BlobS3         = "s3"
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		DatabaseMode:     DatabaseMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		BlobBackend:      BlobFilesystem,
		FilesystemRoot:   "/tmp/coursehub",
		S3Region:         "us-east-1",
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
