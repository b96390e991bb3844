//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

// setupMinIO starts a MinIO container and returns a blob store bound to it
func setupMinIO(t *testing.T) (*S3BlobStore, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start MinIO container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	cfg := storage.Config{
		S3Endpoint:       "http://" + host + ":" + port.Port(),
		S3AccessKey:      "minioadmin",
		S3SecretKey:      "minioadmin",
		S3Bucket:         "coursehub-test",
		S3Region:         "us-east-1",
		S3ForcePathStyle: true,
	}

	store, err := NewS3BlobStore(ctx, cfg)
	require.NoError(t, err)

	cleanup := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	}
	return store, cleanup
}

func TestS3BlobStore_Integration(t *testing.T) {
	store, cleanup := setupMinIO(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		handle, err := store.Put(ctx, []byte("\x89PNG"), "image/png", "cover.png")
		require.NoError(t, err)

		data, contentType, err := store.Get(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, []byte("\x89PNG"), data)
		assert.Equal(t, "image/png", contentType)
	})

	t.Run("missing object", func(t *testing.T) {
		_, _, err := store.Get(ctx, "attachments/does-not-exist.pdf")
		require.Error(t, err)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("delete", func(t *testing.T) {
		handle, err := store.Put(ctx, []byte("bye"), "text/plain", "bye.txt")
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, handle))
		require.NoError(t, store.Delete(ctx, handle))

		_, _, err = store.Get(ctx, handle)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
