package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const artifactContentType = "application/octet-stream"

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string // host:port
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Storage publishes artifacts to an S3-compatible store such as MinIO.
// The bucket is created on first use.
type S3Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	endpoint string
	useSSL   bool

	initOnce sync.Once
	initErr  error
}

// NewS3Storage creates a new S3Storage instance.
func NewS3Storage(cfg *S3Config) (*S3Storage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		region:   region,
		endpoint: endpoint,
		useSSL:   cfg.UseSSL,
	}, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = fmt.Errorf("failed to check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			s.initErr = fmt.Errorf("failed to create bucket: %w", err)
		}
	})
	return s.initErr
}

// Upload stores the content of reader under key.
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(key), reader, size, minio.PutObjectOptions{
		ContentType: artifactContentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

// UploadFile stores a local file under key.
func (s *S3Storage) UploadFile(ctx context.Context, key string, localPath string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey(key), localPath, minio.PutObjectOptions{
		ContentType: artifactContentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to s3: %w", err)
	}
	return nil
}

// Download opens the object at key.
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from s3: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("file not found: %s", key)
		}
		return nil, fmt.Errorf("failed to download from s3: %w", err)
	}
	return obj, nil
}

// DownloadFile copies the object at key to localPath.
func (s *S3Storage) DownloadFile(ctx context.Context, key string, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, objectKey(key), localPath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("file not found: %s", key)
		}
		return fmt.Errorf("failed to download file from s3: %w", err)
	}
	return nil
}

// Delete removes the object at key.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}
	return nil
}

// Exists checks if an object exists at key.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence in s3: %w", err)
	}
	return true, nil
}

// GetURL returns the path-style URL of key.
func (s *S3Storage) GetURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectKey(key))
}

func objectKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
