// Package storage publishes graph artifacts to object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/asset-graph/pkg/config"
)

// Storage is an object store holding published artifacts.
type Storage interface {
	// Upload stores size bytes read from reader under key. A negative size
	// means unknown.
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error

	// UploadFile stores a local file under key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download opens the object at key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile copies the object at key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns where key can be fetched from.
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeNone  StorageType = "none"
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
	StorageTypeS3    StorageType = "s3"
)

// Enabled reports whether cfg selects a backend.
func Enabled(cfg *config.StorageConfig) bool {
	return cfg != nil && cfg.Type != "" && StorageType(cfg.Type) != StorageTypeNone
}

// NewStorage creates the backend selected by cfg.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	case StorageTypeS3:
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.SecretID,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.Scheme != "http",
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage config is nil")
	}

	switch StorageType(cfg.Type) {
	case StorageTypeNone:
		return fmt.Errorf("storage is disabled")
	case StorageTypeLocal, "":
		if cfg.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return fmt.Errorf("COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("COS credentials are required")
		}
	case StorageTypeS3:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return fmt.Errorf("s3 endpoint is required")
		}
		if cfg.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("s3 credentials are required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if cfg.Key == "" {
		return fmt.Errorf("storage key is required")
	}
	return nil
}
