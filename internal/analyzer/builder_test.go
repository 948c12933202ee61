package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/mock"
	"github.com/asset-graph/internal/orchestrator"
	"github.com/asset-graph/internal/query"
	"github.com/asset-graph/internal/snapshot"
	"github.com/asset-graph/internal/testutil"
	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/utils"
)

var (
	prefabGUID  = testutil.GUID(1)
	matGUID     = testutil.GUID(2)
	texGUID     = testutil.GUID(3)
	sceneGUID   = testutil.GUID(4)
	missingGUID = testutil.GUID(99)
)

// sampleProject:
//
//	Assets/Scenes/Main.unity     -> Hero.prefab
//	Assets/Prefabs/Hero.prefab   -> Hero.mat, <missing guid>
//	Assets/Materials/Hero.mat    -> Hero.png
//	Assets/Textures/Hero.png
func sampleProject(t *testing.T) *testutil.Project {
	p := testutil.NewProject(t)
	p.AddAsset("Assets/Scenes/Main.unity", sceneGUID, prefabGUID)
	p.AddAsset("Assets/Prefabs/Hero.prefab", prefabGUID, matGUID, missingGUID)
	p.AddAsset("Assets/Materials/Hero.mat", matGUID, texGUID)
	p.AddBinary("Assets/Textures/Hero.png", texGUID)
	return p
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader("yaml", []byte("index:\n  type: none\n"))
	require.NoError(t, err)
	cfg.Project.Root = root
	cfg.Analysis.WorkerCount = 3
	cfg.Analysis.WorkDir = filepath.Join(t.TempDir(), "work")
	return cfg
}

// inProcess runs every shard through RunWorker in this process.
func inProcess(cfg *config.Config) orchestrator.Launcher {
	return orchestrator.LauncherFunc(func(ctx context.Context, s orchestrator.Shard) error {
		_, err := RunWorker(ctx, cfg, WorkerOptions{TaskPath: s.TaskPath, ResultPath: s.ResultPath})
		return err
	})
}

func build(t *testing.T, cfg *config.Config, p *testutil.Project, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{
		WithLauncher(inProcess(cfg)),
		WithIndex(index.NewMemoryIndex(p.GUIDs)),
	}, opts...)
	b, err := NewBuilder(cfg, opts...)
	require.NoError(t, err)
	res, err := b.Build(context.Background())
	require.NoError(t, err)
	return res
}

func TestBuild_Pipeline(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)

	res := build(t, cfg, p)
	g := res.Graph

	assert.Equal(t, 0, res.FailedShards)
	assert.Equal(t, 3, res.Shards)
	assert.Equal(t, filepath.Join(p.Root, "Library", "dependencyGraph.bin"), res.ArtifactPath)

	testutil.AssertNode(t, g, "assets/scenes/main.unity", graph.KindPackage, "Scene")
	testutil.AssertNode(t, g, "assets/prefabs/hero.prefab", graph.KindPackage, "Prefab")
	testutil.AssertNode(t, g, "assets/materials/hero.mat", graph.KindAsset, "Material")
	testutil.AssertNode(t, g, "assets/textures/hero.png", graph.KindAsset, "Texture")
	testutil.AssertNode(t, g, "assets", graph.KindFolder, graph.FolderType)
	testutil.AssertNode(t, g, missingGUID, graph.KindAsset, "Unknown")

	testutil.AssertDependencies(t, g, "assets/scenes/main.unity", "assets/prefabs/hero.prefab")
	testutil.AssertDependencies(t, g, "assets/prefabs/hero.prefab", "assets/materials/hero.mat", missingGUID)
	testutil.AssertDependencies(t, g, "assets/materials/hero.mat", "assets/textures/hero.png")
	testutil.AssertDependencies(t, g, "assets/textures/hero.png")
	testutil.AssertDependencies(t, g, "assets",
		"assets/scenes", "assets/prefabs", "assets/materials", "assets/textures")
	testutil.AssertDependencies(t, g, "assets/prefabs", "assets/prefabs/hero.prefab")
	testutil.AssertBidirectional(t, g)

	n, _ := g.Find("assets/materials/hero.mat")
	assert.Equal(t, matGUID, n.Self.GUID)

	refs, err := g.ReferenceCount("assets/materials/hero.mat")
	require.NoError(t, err)
	assert.Equal(t, 1, refs, "containing folder is not a reference")

	_, ok := g.Find("assets/materials/hero.mat.meta")
	assert.False(t, ok, "excluded suffixes never become nodes")

	loaded, err := snapshot.Load(res.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, graph.Equal(g, loaded))

	names := make([]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StageTraverse, StageExtract, StageMerge, StageSave}, names)
}

func TestBuild_IndependentOfWorkerCount(t *testing.T) {
	p := sampleProject(t)
	for i := 0; i < 20; i++ {
		p.AddAsset(fmt.Sprintf("Assets/Bulk/M%02d.mat", i), testutil.GUID(1000+i), texGUID, matGUID)
	}

	var graphs []*graph.Graph
	for _, workers := range []int{1, 2, 7, 64} {
		cfg := testConfig(t, p.Root)
		cfg.Analysis.WorkerCount = workers
		cfg.Analysis.ArtifactPath = filepath.Join(t.TempDir(), "g.bin")
		graphs = append(graphs, build(t, cfg, p).Graph)
	}
	for i := 1; i < len(graphs); i++ {
		assert.True(t, graph.Equal(graphs[0], graphs[i]), "graph %d differs", i)
	}

	refs, err := graphs[0].ReferenceCount("assets/textures/hero.png")
	require.NoError(t, err)
	assert.Equal(t, 21, refs)
}

func TestBuild_FailedShardsAreContained(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	cfg.Analysis.WorkerCount = 2

	launcher := &mock.MockLauncher{}
	launcher.ExpectLaunch(0, nil).Run(func(args tmock.Arguments) {
		s := args.Get(1).(orchestrator.Shard)
		_, err := RunWorker(args.Get(0).(context.Context), cfg, WorkerOptions{TaskPath: s.TaskPath, ResultPath: s.ResultPath})
		assert.NoError(t, err)
	})
	launcher.ExpectLaunch(1, errors.New("exit status 3"))

	res := build(t, cfg, p, WithLauncher(launcher))
	assert.Equal(t, 2, res.Shards)
	assert.Equal(t, 1, res.FailedShards)
	assert.Positive(t, res.Graph.Len())
	testutil.AssertBidirectional(t, res.Graph)

	_, err := os.Stat(res.ArtifactPath)
	assert.NoError(t, err, "artifact is written despite a failed shard")
	launcher.AssertExpectations(t)
}

func TestBuild_PublishFailureIsNotFatal(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	cfg.Storage.Key = "game/dependencyGraph.bin"

	store := &mock.MockStorage{}
	store.On("UploadFile", tmock.Anything, "game/dependencyGraph.bin", tmock.Anything).Return(errors.New("network down"))

	res := build(t, cfg, p, WithStorage(store))
	assert.Empty(t, res.PublishedURL)
	_, err := os.Stat(res.ArtifactPath)
	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestBuild_PublishesToLocalStorage(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	cfg.Storage = config.StorageConfig{Type: "local", Key: "graphs/dependencyGraph.bin", LocalPath: t.TempDir()}

	res := build(t, cfg, p)
	assert.Equal(t, filepath.Join(cfg.Storage.LocalPath, "graphs", "dependencyGraph.bin"), res.PublishedURL)

	published, err := snapshot.Load(res.PublishedURL)
	require.NoError(t, err)
	assert.True(t, graph.Equal(res.Graph, published))
}

func TestBuild_MirrorsIntoSQLite(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	cfg.Mirror = config.MirrorConfig{
		Enabled:   true,
		Driver:    "sqlite",
		DSN:       filepath.Join(t.TempDir(), "mirror.db"),
		BatchSize: 3,
		MaxConns:  1,
	}

	res := build(t, cfg, p)
	assert.Equal(t, res.Graph.Len(), res.MirroredRows)

	stats := res.Graph.Stats()
	assert.Equal(t, int64(stats.Folders), res.MirrorTables["folder_nodes"])
	assert.Equal(t, int64(stats.Packages), res.MirrorTables["package_nodes"])
	assert.Equal(t, int64(stats.Assets), res.MirrorTables["asset_nodes"])
}

func TestBuild_MissingScanDirs(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Project.ScanDirs = []string{"Nope"}

	b, err := NewBuilder(cfg, WithLauncher(inProcess(cfg)), WithIndex(index.Empty{}))
	require.NoError(t, err)
	_, err = b.Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestBuild_QueryRoundTrip(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	res := build(t, cfg, p)

	s, err := query.Open(res.ArtifactPath, nil, query.Options{Snapshot: snapshot.DefaultOptions()}, utils.NewDefaultLogger(utils.LevelError, os.Stderr))
	require.NoError(t, err)

	err = s.DeleteNode(context.Background(), "assets/materials/hero.mat", false)
	assert.True(t, apperrors.IsHasDependents(err))

	unused := s.Unused()
	require.Len(t, unused, 1)
	assert.Equal(t, "assets/scenes/main.unity", unused[0].Path())
}

type closeCounter struct {
	*index.MemoryIndex
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestBuild_SuppliedIndexStaysOpen(t *testing.T) {
	p := sampleProject(t)
	cfg := testConfig(t, p.Root)
	idx := &closeCounter{MemoryIndex: index.NewMemoryIndex(p.GUIDs)}

	res := build(t, cfg, p, WithIndex(idx))
	testutil.AssertDependencies(t, res.Graph, "assets/materials/hero.mat", "assets/textures/hero.png")
	assert.Equal(t, 0, idx.closed, "the caller owns an index passed with WithIndex")
}
