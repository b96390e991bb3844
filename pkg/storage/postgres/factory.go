package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

const replicaCheckInterval = 30 * time.Second

// OpenRecordStore builds the record store selected by cfg.DatabaseMode. In
// postgres mode the schema is migrated before the store is returned.
func OpenRecordStore(ctx context.Context, cfg storage.Config, logger *observability.Logger) (storage.RecordStore, error) {
	switch cfg.DatabaseMode {
	case "", storage.DatabaseMemory:
		logger.Warn("using in-memory record store; data is lost on restart")
		return storage.NewMemoryStore(), nil

	case storage.DatabasePostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres url is required in %s mode", storage.DatabasePostgres)
		}
		conns, err := NewConnectionManager(ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: ParseReplicaURLs(cfg.PostgresReplicaURLs),
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		if cfg.PostgresReplicaURLs != "" {
			conns.StartHealthCheckRoutine(ctx, replicaCheckInterval)
		}

		applied, err := Migrate(ctx, conns.Primary())
		if err != nil {
			conns.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		if applied > 0 {
			logger.WithField("applied", applied).Info("schema migrations applied")
		}
		return NewStore(conns, logger), nil

	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.DatabaseMode)
	}
}

// OpenBlobStore builds the blob store selected by cfg.BlobBackend
func OpenBlobStore(ctx context.Context, cfg storage.Config) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "", storage.BlobFilesystem:
		return storage.NewFilesystemBlobStore(cfg.FilesystemRoot)
	case storage.BlobS3:
		return NewS3BlobStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
