// Package files serves workspace attachments behind signed URLs.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"crm-graphql/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage drivers selectable in configuration.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("file not found")

// Object is an opened stored file.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

// Storage reads stored files by key. Keys are slash separated.
type Storage interface {
	Open(ctx context.Context, key string) (*Object, error)
}

// WorkspaceKey is the storage key of a file in the folder of a workspace.
func WorkspaceKey(workspaceID, folder, filename string) string {
	return path.Join("workspace-"+workspaceID, folder, filename)
}

// validKey rejects keys that could escape the storage root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// LocalStorage reads files below a directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

func (s *LocalStorage) Open(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return &Object{ReadCloser: f, Size: info.Size()}, nil
}

// S3Storage reads files from one bucket of an S3 compatible service.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage connects to the configured endpoint. The connection is lazy:
// no request is made until the first Open.
func NewS3Storage(cfg config.FilesConfig) (*S3Storage, error) {
	if cfg.S3Endpoint == "" {
		return nil, fmt.Errorf("files.s3_endpoint is required")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("files.s3_bucket is required")
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3Storage{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3Storage) Open(ctx context.Context, key string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(key, err)
	}
	// GetObject is lazy; Stat performs the request.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, classifyS3Error(key, err)
	}
	return &Object{ReadCloser: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

func classifyS3Error(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return fmt.Errorf("failed to read %s: %w", key, err)
}

// NewStorage builds the storage driver named in cfg.
func NewStorage(cfg config.FilesConfig) (Storage, error) {
	switch cfg.Driver {
	case "", DriverLocal:
		dir := cfg.LocalDir
		if dir == "" {
			dir = ".local-storage"
		}
		return NewLocalStorage(dir), nil
	case DriverS3:
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown files driver %q", cfg.Driver)
	}
}
