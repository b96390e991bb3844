package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

const (
	attachmentPrefix = "attachments"
	checksumMetaKey  = "checksum-sha256"
	nameMetaKey      = "original-name"
)

// s3API is the subset of the S3 client used by S3BlobStore
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3BlobStore keeps attachments in an S3-compatible bucket
type S3BlobStore struct {
	client s3API
	bucket string
}

// NewS3BlobStore connects to the configured bucket, creating it when missing
func NewS3BlobStore(ctx context.Context, cfg storage.Config) (*S3BlobStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	store := newS3BlobStore(client, cfg.S3Bucket)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

func newS3BlobStore(client s3API, bucket string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket}
}

func (s *S3BlobStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", s.bucket),
	)
	return tracer.Start(ctx, "S3."+op, trace.WithAttributes(attrs...))
}

// Put uploads data under a fresh key that keeps the base of name
func (s *S3BlobStore) Put(ctx context.Context, data []byte, contentType, name string) (storage.Handle, error) {
	handle := storage.Handle(storage.BlobKey(attachmentPrefix+"/"+uuid.NewString(), name))
	ctx, span := s.startSpan(ctx, "PutObject",
		attribute.String("s3.key", string(handle)),
		attribute.String("content.type", contentType),
		attribute.Int("content.size", len(data)),
	)
	defer span.End()

	sum := sha256.Sum256(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(string(handle)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			checksumMetaKey: hex.EncodeToString(sum[:]),
			nameMetaKey:     name,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", domain.StorageFailure("S3BlobStore.Put", err)
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return handle, nil
}

// Get downloads the object and verifies its checksum when one was recorded
func (s *S3BlobStore) Get(ctx context.Context, handle storage.Handle) ([]byte, string, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, "", err
	}
	ctx, span := s.startSpan(ctx, "GetObject", attribute.String("s3.key", string(handle)))
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(handle)),
	})
	if err != nil {
		span.RecordError(err)
		if isNotFoundError(err) {
			span.SetStatus(codes.Error, "object not found")
			return nil, "", domain.E(domain.KindNotFound, "S3BlobStore.Get", "file not found: %s", handle)
		}
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, "", domain.StorageFailure("S3BlobStore.Get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read object body")
		return nil, "", domain.StorageFailure("S3BlobStore.Get", err)
	}

	if want := out.Metadata[checksumMetaKey]; want != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			err := fmt.Errorf("checksum mismatch for %s: got %s, want %s", handle, got, want)
			span.RecordError(err)
			span.SetStatus(codes.Error, "checksum mismatch")
			return nil, "", domain.StorageFailure("S3BlobStore.Get", err)
		}
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))
	span.SetStatus(codes.Ok, "object retrieved")
	return data, contentType, nil
}

// Delete removes the object. S3 deletes are idempotent.
func (s *S3BlobStore) Delete(ctx context.Context, handle storage.Handle) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "DeleteObject", attribute.String("s3.key", string(handle)))
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(handle)),
	})
	if err != nil && !isNotFoundError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete object")
		return domain.StorageFailure("S3BlobStore.Delete", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (s *S3BlobStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (s *S3BlobStore) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}

func isBucketAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &exists) || errors.As(err, &owned) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "BucketAlreadyExists") || strings.Contains(msg, "BucketAlreadyOwnedByYou")
}

var _ storage.BlobStore = (*S3BlobStore)(nil)
