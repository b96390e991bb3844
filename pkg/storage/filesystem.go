package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

const metaSuffix = ".meta"

// blobMeta is the sidecar written next to every blob
type blobMeta struct {
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// FilesystemBlobStore implements BlobStore using the local filesystem
type FilesystemBlobStore struct {
	rootDir string
}

// NewFilesystemBlobStore creates a new filesystem-based blob store
func NewFilesystemBlobStore(rootDir string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemBlobStore{rootDir: rootDir}, nil
}

// BlobKey builds a handle from a prefix and a client-supplied file name.
// Directory components are stripped from name; an empty name gets a random one.
func BlobKey(prefix, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, base)
	if base == "" || base == "." || base == "/" || base == ".." {
		base = uuid.New().String()
	}
	if prefix == "" {
		return base
	}
	return strings.TrimSuffix(prefix, "/") + "/" + base
}

// ValidateHandle rejects handles that could escape the store root
func ValidateHandle(handle Handle) error {
	h := string(handle)
	if h == "" || strings.HasPrefix(h, "/") || strings.Contains(h, "\\") {
		return domain.E(domain.KindInvalidInput, "ValidateHandle", "invalid blob handle: %q", h)
	}
	for _, part := range strings.Split(h, "/") {
		if part == "" || part == "." || part == ".." {
			return domain.E(domain.KindInvalidInput, "ValidateHandle", "invalid blob handle: %q", h)
		}
	}
	if strings.HasSuffix(h, metaSuffix) {
		return domain.E(domain.KindInvalidInput, "ValidateHandle", "invalid blob handle: %q", h)
	}
	return nil
}

func (s *FilesystemBlobStore) pathFor(handle Handle) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(string(handle)))
}

// Put implements BlobStore.Put. The name is used as the handle.
func (s *FilesystemBlobStore) Put(ctx context.Context, data []byte, contentType, name string) (Handle, error) {
	handle := Handle(name)
	if handle == "" {
		handle = Handle(BlobKey("", ""))
	}
	if err := ValidateHandle(handle); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	blobPath := s.pathFor(handle)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return "", domain.StorageFailure("FilesystemBlobStore.Put", fmt.Errorf("failed to create blob directory: %w", err))
	}

	sum := sha256.Sum256(data)
	meta, err := json.Marshal(blobMeta{
		ContentType: contentType,
		Size:        len(data),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob metadata: %w", err)
	}

	if err := os.WriteFile(blobPath, data, 0644); err != nil {
		return "", domain.StorageFailure("FilesystemBlobStore.Put", fmt.Errorf("failed to write blob: %w", err))
	}
	if err := os.WriteFile(blobPath+metaSuffix, meta, 0644); err != nil {
		return "", domain.StorageFailure("FilesystemBlobStore.Put", fmt.Errorf("failed to write blob metadata: %w", err))
	}

	return handle, nil
}

// Get implements BlobStore.Get
func (s *FilesystemBlobStore) Get(ctx context.Context, handle Handle) ([]byte, string, error) {
	if err := ValidateHandle(handle); err != nil {
		return nil, "", err
	}

	blobPath := s.pathFor(handle)
	data, err := os.ReadFile(blobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", domain.E(domain.KindNotFound, "FilesystemBlobStore.Get", "file not found: %s", handle)
		}
		return nil, "", domain.StorageFailure("FilesystemBlobStore.Get", err)
	}

	contentType := "application/octet-stream"
	if raw, err := os.ReadFile(blobPath + metaSuffix); err == nil {
		var meta blobMeta
		if err := json.Unmarshal(raw, &meta); err == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}

	return data, contentType, nil
}

// Delete implements BlobStore.Delete. Deleting a missing blob is not an error.
func (s *FilesystemBlobStore) Delete(ctx context.Context, handle Handle) error {
	if err := ValidateHandle(handle); err != nil {
		return err
	}
	blobPath := s.pathFor(handle)
	for _, p := range []string{blobPath, blobPath + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return domain.StorageFailure("FilesystemBlobStore.Delete", err)
		}
	}
	return nil
}

// HealthCheck verifies the root directory is writable
func (s *FilesystemBlobStore) HealthCheck(ctx context.Context) error {
	probe, err := os.CreateTemp(s.rootDir, ".health-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
