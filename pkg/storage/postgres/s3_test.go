package postgres

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

type mockObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type mockS3Client struct {
	mu           sync.Mutex
	objects      map[string]mockObject
	bucketExists bool
	created      int
	putErr       error
	getErr       error
	deleteErr    error
	headErr      error
	createErr    error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string]mockObject), bucketExists: true}
}

func (m *mockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = mockObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: aws.String(obj.contentType),
		Metadata:    obj.metadata,
	}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	if !m.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created++
	m.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3BlobStore_PutGetRoundTrip(t *testing.T) {
	client := newMockS3Client()
	store := newS3BlobStore(client, "attachments")
	ctx := context.Background()

	handle, err := store.Put(ctx, []byte("%PDF-1.4"), "application/pdf", "syllabus.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(handle), "attachments/"))
	assert.True(t, strings.HasSuffix(string(handle), "syllabus.pdf"))

	stored := client.objects[string(handle)]
	assert.Len(t, stored.metadata[checksumMetaKey], 64)
	assert.Equal(t, "syllabus.pdf", stored.metadata[nameMetaKey])

	data, contentType, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
	assert.Equal(t, "application/pdf", contentType)
}

func TestS3BlobStore_PutProducesDistinctHandles(t *testing.T) {
	store := newS3BlobStore(newMockS3Client(), "attachments")
	ctx := context.Background()

	h1, err := store.Put(ctx, []byte("a"), "image/png", "cover.png")
	require.NoError(t, err)
	h2, err := store.Put(ctx, []byte("b"), "image/png", "cover.png")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestS3BlobStore_GetMissing(t *testing.T) {
	store := newS3BlobStore(newMockS3Client(), "attachments")

	_, _, err := store.Get(context.Background(), "attachments/missing.png")

	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Contains(t, err.Error(), "file not found")
}

func TestS3BlobStore_GetRejectsTraversal(t *testing.T) {
	store := newS3BlobStore(newMockS3Client(), "attachments")

	_, _, err := store.Get(context.Background(), "../etc/passwd")

	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

func TestS3BlobStore_GetChecksumMismatch(t *testing.T) {
	client := newMockS3Client()
	store := newS3BlobStore(client, "attachments")
	ctx := context.Background()

	handle, err := store.Put(ctx, []byte("original"), "text/plain", "notes.txt")
	require.NoError(t, err)

	obj := client.objects[string(handle)]
	obj.data = []byte("tampered")
	client.objects[string(handle)] = obj

	_, _, err = store.Get(ctx, handle)
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestS3BlobStore_GetDefaultsContentType(t *testing.T) {
	client := newMockS3Client()
	client.objects["attachments/raw"] = mockObject{data: []byte("x")}
	store := newS3BlobStore(client, "attachments")

	_, contentType, err := store.Get(context.Background(), "attachments/raw")

	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestS3BlobStore_BackendErrorsAreStorageFailures(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("connection reset by peer")
	client.getErr = errors.New("connection reset by peer")
	client.deleteErr = errors.New("connection reset by peer")
	store := newS3BlobStore(client, "attachments")
	ctx := context.Background()

	_, err := store.Put(ctx, []byte("x"), "text/plain", "a.txt")
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))

	_, _, err = store.Get(ctx, "attachments/a.txt")
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))

	err = store.Delete(ctx, "attachments/a.txt")
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))
}

func TestS3BlobStore_DeleteIsIdempotent(t *testing.T) {
	client := newMockS3Client()
	store := newS3BlobStore(client, "attachments")
	ctx := context.Background()

	handle, err := store.Put(ctx, []byte("x"), "text/plain", "a.txt")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, handle))
	require.NoError(t, store.Delete(ctx, handle))
	assert.Empty(t, client.objects)
}

func TestS3BlobStore_EnsureBucket(t *testing.T) {
	t.Run("existing bucket is left alone", func(t *testing.T) {
		client := newMockS3Client()
		store := newS3BlobStore(client, "attachments")

		require.NoError(t, store.ensureBucket(context.Background()))
		assert.Equal(t, 0, client.created)
	})

	t.Run("missing bucket is created", func(t *testing.T) {
		client := newMockS3Client()
		client.bucketExists = false
		store := newS3BlobStore(client, "attachments")

		require.NoError(t, store.ensureBucket(context.Background()))
		assert.Equal(t, 1, client.created)
	})

	t.Run("create race is tolerated", func(t *testing.T) {
		client := newMockS3Client()
		client.bucketExists = false
		client.createErr = &types.BucketAlreadyOwnedByYou{}
		store := newS3BlobStore(client, "attachments")

		assert.NoError(t, store.ensureBucket(context.Background()))
	})

	t.Run("other create errors fail", func(t *testing.T) {
		client := newMockS3Client()
		client.bucketExists = false
		client.createErr = errors.New("AccessDenied")
		store := newS3BlobStore(client, "attachments")

		err := store.ensureBucket(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create bucket")
	})
}

func TestS3BlobStore_HealthCheck(t *testing.T) {
	client := newMockS3Client()
	store := newS3BlobStore(client, "attachments")
	assert.NoError(t, store.HealthCheck(context.Background()))

	client.headErr = errors.New("dial tcp: connection refused")
	err := store.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 health check failed")
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed no such key", &types.NoSuchKey{}, true},
		{"typed not found", &types.NotFound{}, true},
		{"string NoSuchKey", errors.New("api error NoSuchKey: gone"), true},
		{"unrelated", errors.New("AccessDenied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFoundError(tt.err))
		})
	}
}

func TestIsBucketAlreadyExistsError(t *testing.T) {
	assert.False(t, isBucketAlreadyExistsError(nil))
	assert.True(t, isBucketAlreadyExistsError(&types.BucketAlreadyExists{}))
	assert.True(t, isBucketAlreadyExistsError(errors.New("BucketAlreadyOwnedByYou: yours")))
	assert.False(t, isBucketAlreadyExistsError(errors.New("AccessDenied")))
}

func TestNewS3BlobStore_RequiresBucket(t *testing.T) {
	_, err := NewS3BlobStore(context.Background(), storage.Config{S3Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}
