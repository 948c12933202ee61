package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asset-graph/internal/analyzer"
	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/mirror"
	"github.com/asset-graph/internal/orchestrator"
	"github.com/asset-graph/internal/query"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/internal/snapshot"
	"github.com/asset-graph/internal/storage"
	"github.com/asset-graph/internal/testutil"
	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/utils"
)

const (
	workerEnv     = "ASSETGRAPH_INTEGRATION_WORKER"
	crashShardEnv = "ASSETGRAPH_INTEGRATION_CRASH"
)

// TestMain turns the test binary into a worker process when launched by
// the process launcher below.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		os.Exit(runWorker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runWorker(args []string) int {
	if len(args) > 0 && args[0] == "worker" {
		args = args[1:]
	}
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	task := fs.String("task", "", "")
	result := fs.String("result", "", "")
	compression := fs.String("compression", "zstd", "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if crash := os.Getenv(crashShardEnv); crash != "" && filepath.Base(*task) == crash {
		return 3
	}

	cfg, err := config.LoadFromReader("yaml", []byte(fmt.Sprintf("analysis:\n  compression: %s\n", *compression)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, err := analyzer.RunWorker(context.Background(), cfg, analyzer.WorkerOptions{TaskPath: *task, ResultPath: *result}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func processLauncher(t *testing.T, compression string, env ...string) orchestrator.Launcher {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return &orchestrator.ProcessLauncher{
		Executable: exe,
		ExtraArgs:  []string{"--compression", compression},
		Env:        append([]string{workerEnv + "=1"}, env...),
		Stdout:     os.Stderr,
		Stderr:     os.Stderr,
	}
}

// project builds a small game project:
//
//	Assets/Scenes/Main.unity      -> Player.prefab, Enemy.prefab
//	Assets/Prefabs/Player.prefab  -> Player.mat, Shared.mat
//	Assets/Prefabs/Enemy.prefab   -> Shared.mat, <deleted asset>
//	Assets/Materials/*.mat        -> textures
//	Assets/Textures/*.png
//	Assets/Unused/Old.mat
func project(t *testing.T) *testutil.Project {
	p := testutil.NewProject(t)
	p.AddAsset("Assets/Scenes/Main.unity", testutil.GUID(1), testutil.GUID(10), testutil.GUID(11))
	p.AddAsset("Assets/Prefabs/Player.prefab", testutil.GUID(10), testutil.GUID(20), testutil.GUID(21))
	p.AddAsset("Assets/Prefabs/Enemy.prefab", testutil.GUID(11), testutil.GUID(21), testutil.GUID(404))
	p.AddAsset("Assets/Materials/Player.mat", testutil.GUID(20), testutil.GUID(30))
	p.AddAsset("Assets/Materials/Shared.mat", testutil.GUID(21), testutil.GUID(30), testutil.GUID(31))
	p.AddBinary("Assets/Textures/Player.png", testutil.GUID(30))
	p.AddBinary("Assets/Textures/Noise.png", testutil.GUID(31))
	p.AddAsset("Assets/Unused/Old.mat", testutil.GUID(40), testutil.GUID(31))
	return p
}

func projectConfig(t *testing.T, root, compression string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader("yaml", []byte(fmt.Sprintf(`
project:
  root: %q
analysis:
  worker_count: 4
  compression: %s
  work_dir: %q
index:
  type: json
  path: %q
`, root, compression, filepath.Join(t.TempDir(), "work"), filepath.Join(root, "Library", "path2guid.json"))))
	require.NoError(t, err)
	return cfg
}

func TestPipeline_WorkerProcesses(t *testing.T) {
	for _, compression := range []string{"zstd", "gzip", "none"} {
		t.Run(compression, func(t *testing.T) {
			p := project(t)
			cfg := projectConfig(t, p.Root, compression)
			require.NoError(t, index.WriteJSONFile(cfg.Index.Path, p.GUIDs))

			b, err := analyzer.NewBuilder(cfg, analyzer.WithLauncher(processLauncher(t, compression)))
			require.NoError(t, err)
			res, err := b.Build(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 4, res.Shards)
			assert.Zero(t, res.FailedShards)
			g := res.Graph
			testutil.AssertBidirectional(t, g)
			testutil.AssertDependencies(t, g, "assets/scenes/main.unity",
				"assets/prefabs/player.prefab", "assets/prefabs/enemy.prefab")
			testutil.AssertDependencies(t, g, "assets/prefabs/enemy.prefab",
				"assets/materials/shared.mat", testutil.GUID(404))
			testutil.AssertNode(t, g, "assets/prefabs/enemy.prefab", graph.KindPackage, "Prefab")

			for path, want := range map[string]int{
				"assets/materials/shared.mat": 2,
				"assets/textures/player.png":  2,
				"assets/textures/noise.png":   2,
				"assets/unused/old.mat":       0,
				"assets/scenes/main.unity":    0,
			} {
				got, err := g.ReferenceCount(path)
				require.NoError(t, err, path)
				assert.Equal(t, want, got, path)
			}

			_, meta, err := snapshot.LoadWithMetadata(res.ArtifactPath)
			require.NoError(t, err)
			assert.Equal(t, g.Len(), meta.Nodes)
		})
	}
}

func TestPipeline_CrashedWorkerLosesOnlyItsShard(t *testing.T) {
	p := project(t)
	cfg := projectConfig(t, p.Root, "zstd")
	require.NoError(t, index.WriteJSONFile(cfg.Index.Path, p.GUIDs))

	b, err := analyzer.NewBuilder(cfg, analyzer.WithLauncher(processLauncher(t, "zstd", crashShardEnv+"=task-1.bin")))
	require.NoError(t, err)
	res, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedShards)
	assert.Positive(t, res.Graph.Len())
	testutil.AssertBidirectional(t, res.Graph)
	_, err = os.Stat(res.ArtifactPath)
	assert.NoError(t, err)
}

// TestPipeline_BuildPublishMirrorQuery runs the whole chain: build into a
// local store and a sqlite mirror, fetch the artifact back, then delete an
// unused asset through a query session that keeps the mirror in sync.
func TestPipeline_BuildPublishMirrorQuery(t *testing.T) {
	ctx := context.Background()
	p := project(t)
	cfg := projectConfig(t, p.Root, "zstd")
	require.NoError(t, index.WriteJSONFile(cfg.Index.Path, p.GUIDs))
	cfg.Storage = config.StorageConfig{Type: "local", Key: "game/dependencyGraph.bin", LocalPath: t.TempDir()}
	cfg.Mirror = config.MirrorConfig{Enabled: true, Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "mirror.db"), BatchSize: 4, MaxConns: 1}

	b, err := analyzer.NewBuilder(cfg, analyzer.WithLauncher(processLauncher(t, "zstd")))
	require.NoError(t, err)
	res, err := b.Build(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, res.PublishedURL)
	assert.Equal(t, res.Graph.Len(), res.MirroredRows)

	store, err := storage.NewStorage(&cfg.Storage)
	require.NoError(t, err)
	fetched := filepath.Join(t.TempDir(), "fetched.bin")
	meta, err := storage.NewPublisher(store, cfg.Storage.Key, nil).Fetch(ctx, fetched)
	require.NoError(t, err)
	assert.Equal(t, res.Graph.Len(), meta.Nodes)

	m, err := mirror.Open(ctx, cfg.Mirror, nil)
	require.NoError(t, err)
	defer m.Close()

	idx, err := index.LoadJSON(cfg.Index.Path)
	require.NoError(t, err)
	logger := utils.NewDefaultLogger(utils.LevelError, os.Stderr)
	s, err := query.Open(fetched, resolve.New(p.Root, idx, logger), query.Options{
		Snapshot: snapshot.DefaultOptions(),
		Sink:     m,
	}, logger)
	require.NoError(t, err)

	refs, err := s.ReferenceCount(ctx, testutil.GUID(21))
	require.NoError(t, err)
	assert.Equal(t, 2, refs, "guid resolves through the index")

	err = s.DeleteNode(ctx, "Assets/Textures/Noise.png", false)
	assert.True(t, apperrors.IsHasDependents(err))

	require.NoError(t, s.DeleteNode(ctx, "Assets/Unused/Old.mat", false))
	_, err = s.Save()
	require.NoError(t, err)

	_, err = m.Find(ctx, "assets/unused/old.mat")
	assert.True(t, apperrors.IsNotFound(err))
	noise, err := m.Find(ctx, "assets/textures/noise.png")
	require.NoError(t, err)
	assert.Equal(t, 1, noise.RefCount, "the deleted material no longer counts")

	reloaded, err := snapshot.Load(fetched)
	require.NoError(t, err)
	_, ok := reloaded.Find("assets/unused/old.mat")
	assert.False(t, ok)
}
