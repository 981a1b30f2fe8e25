// Package storage places archive files in object storage so they can be
// kept off the machine that produced them and fetched back for restore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/stratadb/strata/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations are the local filesystem and S3.
type ObjectStorage interface {
	// Upload copies the local file at localPath to key.
	Upload(ctx context.Context, localPath, key string) error

	// Download copies the object at key to localPath. The local file only
	// appears once the copy is complete.
	Download(ctx context.Context, key, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// ListObjects returns all keys under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the ObjectStorage selected by cfg. It returns nil for the
// "none" type.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", config.StorageNone:
		return nil, nil
	case config.StorageLocal:
		return NewLocalStorage(cfg.Path)
	case config.StorageS3:
		return NewS3Storage(ctx, cfg.S3.Bucket, S3ConfigFrom(cfg.S3))
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// Location is a parsed archive reference given on the command line.
type Location struct {
	// Bucket is set for s3:// references
	Bucket string

	// Key is the object key
	Key string
}

// ParseLocation recognizes "s3://bucket/key" and "storage:key" references.
// ok is false for plain file paths.
func ParseLocation(ref string) (loc Location, ok bool, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, found := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if !found || bucket == "" || key == "" {
			return Location{}, false, fmt.Errorf("storage: malformed s3 reference %q (want s3://bucket/key)", ref)
		}
		return Location{Bucket: bucket, Key: key}, true, nil
	case strings.HasPrefix(ref, "storage:"):
		key := strings.TrimPrefix(ref, "storage:")
		if key == "" {
			return Location{}, false, fmt.Errorf("storage: empty object key in %q", ref)
		}
		return Location{Key: key}, true, nil
	}
	return Location{}, false, nil
}

// JoinKey prefixes key with prefix using "/" separators.
func JoinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
