package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tencentyun/cos-go-sdk-v5"
)

const (
	defaultCOSDomain = "myqcloud.com"
	// Artifacts above this size are uploaded in parts.
	cosPartSizeMB    = 16
	cosUploadThreads = 4
)

// COSConfig holds COS-specific configuration.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // defaults to myqcloud.com
	Scheme    string // https or http
}

// COSStorage publishes artifacts to Tencent Cloud COS.
type COSStorage struct {
	client  *cos.Client
	baseURL string // scheme://bucket.cos.region.domain
}

// NewCOSStorage creates a new COSStorage instance.
func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("bucket and region are required for COS storage")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials are required for COS storage")
	}
	domain := cfg.Domain
	if domain == "" {
		domain = defaultCOSDomain
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	base := fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain)
	bucketURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStorage{client: client, baseURL: base}, nil
}

func artifactHeaders() *cos.ObjectPutHeaderOptions {
	return &cos.ObjectPutHeaderOptions{ContentType: artifactContentType}
}

// Upload stores the content of reader under key. size may be -1 when
// unknown.
func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	headers := artifactHeaders()
	if size >= 0 {
		headers.ContentLength = size
	}
	if _, err := s.client.Object.Put(ctx, key, reader, &cos.ObjectPutOptions{ObjectPutHeaderOptions: headers}); err != nil {
		return fmt.Errorf("cos put %s: %w", key, err)
	}
	return nil
}

// UploadFile stores a local artifact under key, in parts when it is large.
func (s *COSStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	opt := &cos.MultiUploadOptions{
		OptIni:         &cos.InitiateMultipartUploadOptions{ObjectPutHeaderOptions: artifactHeaders()},
		PartSize:       cosPartSizeMB,
		ThreadPoolSize: cosUploadThreads,
	}
	if _, _, err := s.client.Object.Upload(ctx, key, localPath, opt); err != nil {
		return fmt.Errorf("cos upload %s: %w", key, err)
	}
	return nil
}

// Download opens the object at key.
func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, fmt.Errorf("file not found: %s", key)
		}
		return nil, fmt.Errorf("cos get %s: %w", key, err)
	}
	return resp.Body, nil
}

// DownloadFile copies the object at key to localPath.
func (s *COSStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	rc, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeAtomic(localPath, rc)
}

// Delete deletes the object at key.
func (s *COSStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key, nil); err != nil {
		return fmt.Errorf("cos delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object exists at key.
func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cos head %s: %w", key, err)
	}
	return ok, nil
}

// GetURL returns the object URL for key.
func (s *COSStorage) GetURL(key string) string {
	return s.baseURL + "/" + key
}
