// Package storage provides the object storage targets that finished segments
// are published to.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for storage operations.
var (
	ErrUploadFailed = errors.New("upload failed")
	ErrDeleteFailed = errors.New("delete failed")
	ErrListFailed   = errors.New("list failed")
)

// Storage types.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// ObjectStorage abstracts object storage operations.
// Object paths always use forward slashes.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Config selects and configures an ObjectStorage implementation.
type Config struct {
	// Type is local or s3
	Type string

	// Path is the base directory for local storage
	Path string

	// Bucket is the S3 bucket name
	Bucket string

	// S3 client settings
	S3 S3Config
}

// New creates the ObjectStorage described by cfg.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: local storage requires a path")
		}
		return NewLocalStorage(cfg.Path)
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage: s3 storage requires a bucket")
		}
		return NewS3Storage(ctx, cfg.Bucket, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown storage type %q", cfg.Type)
	}
}
