package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/mock"
	"github.com/asset-graph/internal/snapshot"
	apperrors "github.com/asset-graph/pkg/errors"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	g := graph.New()
	a := g.Observe(graph.Identifier{Path: "assets/a.prefab", AssetType: "Prefab"}, graph.KindPackage)
	b := g.Observe(graph.Identifier{Path: "assets/b.mat", AssetType: "Material"}, graph.KindAsset)
	require.NoError(t, g.AddEdge(a, b))
	g.Finalize()

	path := filepath.Join(t.TempDir(), "dependencyGraph.bin")
	_, err := snapshot.Save(g, path, snapshot.DefaultOptions())
	require.NoError(t, err)
	return path
}

func TestPublisher_PublishAndFetch(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPublisher(store, "game/dependencyGraph.bin", nil)
	p.now = func() time.Time { return published }

	url, err := p.Publish(ctx, writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.GetBasePath(), "game", "dependencyGraph.bin"), url)

	raw, err := os.ReadFile(filepath.Join(store.GetBasePath(), "game", "dependencyGraph.bin"+ManifestSuffix))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, "game/dependencyGraph.bin", manifest.Key)
	assert.Equal(t, 2, manifest.Nodes)
	assert.Equal(t, snapshot.Version, manifest.Version)
	assert.Equal(t, "zstd", manifest.Compression)
	assert.True(t, manifest.PublishedAt.Equal(published))

	dest := filepath.Join(t.TempDir(), "fetched.bin")
	meta, err := p.Fetch(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Nodes)

	g, err := snapshot.Load(dest)
	require.NoError(t, err)
	_, ok := g.Find("assets/b.mat")
	assert.True(t, ok)
}

func TestPublisher_RejectsCorruptArtifact(t *testing.T) {
	store := &mock.MockStorage{}
	path := filepath.Join(t.TempDir(), "broken.bin")
	require.NoError(t, os.WriteFile(path, []byte("not an artifact"), 0644))

	_, err := NewPublisher(store, "k", nil).Publish(context.Background(), path)
	require.Error(t, err)
	assert.True(t, apperrors.IsArtifactIO(err))
	store.AssertNotCalled(t, "UploadFile", tmock.Anything, tmock.Anything, tmock.Anything)
}

func TestPublisher_UploadFailure(t *testing.T) {
	artifact := writeArtifact(t)
	store := &mock.MockStorage{}
	store.ExpectUploadFile("k", artifact, errors.New("403 forbidden"))

	_, err := NewPublisher(store, "k", nil).Publish(context.Background(), artifact)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStorageError, apperrors.GetErrorCode(err))
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Upload", tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything)
}

func TestPublisher_UploadsManifestAfterArtifact(t *testing.T) {
	artifact := writeArtifact(t)
	store := &mock.MockStorage{}
	store.ExpectUploadFile("k", artifact, nil).Once()
	store.ExpectUpload("k"+ManifestSuffix, nil).Once()
	store.ExpectGetURL("k", "https://example.invalid/k")

	url, err := NewPublisher(store, "k", nil).Publish(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, "https://example.invalid/k", url)
	store.AssertExpectations(t)
}

func TestPublisher_ManifestDescribesArtifact(t *testing.T) {
	artifact := writeArtifact(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var body bytes.Buffer
	store := &mock.MockStorage{}
	store.ExpectUploadFile("game/graph.bin", artifact, nil)
	store.CaptureUpload("game/graph.bin"+ManifestSuffix, &body)
	store.ExpectGetURL("game/graph.bin", "mem://game/graph.bin")

	p := NewPublisher(store, "game/graph.bin", nil)
	p.now = func() time.Time { return published }
	_, err := p.Publish(context.Background(), artifact)
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(body.Bytes(), &m))
	assert.Equal(t, "game/graph.bin", m.Key)
	assert.Equal(t, snapshot.Version, m.Version)
	assert.Equal(t, 2, m.Nodes)
	assert.Equal(t, published, m.PublishedAt)
	assert.Equal(t, "zstd", m.Compression)
}

func TestPublisher_FetchRejectsCorruptDownload(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "bogus.bin")
	require.NoError(t, os.WriteFile(bogus, []byte("ADGSjunk"), 0644))

	store := &mock.MockStorage{}
	store.ServeFile("k", bogus)

	_, err := NewPublisher(store, "k", nil).Fetch(context.Background(), filepath.Join(t.TempDir(), "out.bin"))
	require.Error(t, err)
	assert.True(t, apperrors.IsArtifactIO(err))
	store.AssertExpectations(t)
}

func TestPublisher_FetchFromMock(t *testing.T) {
	artifact := writeArtifact(t)
	store := &mock.MockStorage{}
	store.ServeFile("k", artifact)

	meta, err := NewPublisher(store, "k", nil).Fetch(context.Background(), filepath.Join(t.TempDir(), "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Nodes)
}
