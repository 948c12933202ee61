package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asset-graph/internal/snapshot"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// ManifestSuffix is appended to the artifact key to name its manifest.
const ManifestSuffix = ".manifest.json"

// Manifest describes a published artifact.
type Manifest struct {
	Key         string    `json:"key"`
	Version     int       `json:"version"`
	Compression string    `json:"compression"`
	CreatedAt   time.Time `json:"created_at"`
	Nodes       int       `json:"nodes"`
	Identifiers int       `json:"identifiers"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher uploads artifacts under a fixed key.
type Publisher struct {
	store  Storage
	key    string
	logger utils.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher for key.
func NewPublisher(store Storage, key string, logger utils.Logger) *Publisher {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Publisher{store: store, key: key, logger: logger, now: time.Now}
}

// Publish uploads the artifact at artifactPath followed by its manifest and
// returns the artifact URL. The artifact is validated before upload.
func (p *Publisher) Publish(ctx context.Context, artifactPath string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.Publish")
	defer span.End()

	_, meta, err := snapshot.LoadWithMetadata(artifactPath)
	if err != nil {
		return "", err
	}

	if err := p.store.UploadFile(ctx, p.key, artifactPath); err != nil {
		return "", apperrors.Wrapf(apperrors.CodeStorageError, err, "upload %s", p.key)
	}

	manifest := Manifest{
		Key:         p.key,
		Version:     meta.Version,
		Compression: meta.Compression.String(),
		CreatedAt:   meta.CreatedAt.UTC(),
		Nodes:       meta.Nodes,
		Identifiers: meta.Identifiers,
		PublishedAt: p.now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := p.store.Upload(ctx, p.key+ManifestSuffix, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", apperrors.Wrapf(apperrors.CodeStorageError, err, "upload %s%s", p.key, ManifestSuffix)
	}

	url := p.store.GetURL(p.key)
	p.logger.Info("published %s (%d nodes) to %s", artifactPath, meta.Nodes, url)
	return url, nil
}

// Fetch downloads the published artifact to localPath and checks that it
// decodes.
func (p *Publisher) Fetch(ctx context.Context, localPath string) (snapshot.Metadata, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.Fetch")
	defer span.End()

	if err := p.store.DownloadFile(ctx, p.key, localPath); err != nil {
		return snapshot.Metadata{}, apperrors.Wrapf(apperrors.CodeStorageError, err, "download %s", p.key)
	}
	_, meta, err := snapshot.LoadWithMetadata(localPath)
	if err != nil {
		return snapshot.Metadata{}, err
	}
	p.logger.Info("fetched %s (%d nodes) to %s", p.key, meta.Nodes, localPath)
	return meta, nil
}
