// Package analyzer wires the pipeline together: Build runs in the main
// process, RunWorker in every worker process.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/merge"
	"github.com/asset-graph/internal/mirror"
	"github.com/asset-graph/internal/orchestrator"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/internal/snapshot"
	"github.com/asset-graph/internal/storage"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/compression"
	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// Stage names reported by the build timer.
const (
	StageTraverse = "traverse"
	StageExtract  = "extract"
	StageMerge    = "merge"
	StageSave     = "save"
	StagePublish  = "publish"
	StageMirror   = "mirror"
)

// Result summarizes a build.
type Result struct {
	Graph          *graph.Graph
	ArtifactPath   string
	Entries        int
	Shards         int
	FailedShards   int
	LookupFailures int64
	Snapshot       *snapshot.Stats
	PublishedURL   string
	MirroredRows   int
	MirrorTables   map[string]int64
	Stages         []utils.Stage
}

// Builder runs a full build.
type Builder struct {
	cfg        *config.Config
	filter     *filter.AssetFilter
	logger     utils.Logger
	clock      utils.Clock
	launcher   orchestrator.Launcher
	workerArgs []string
	idx        index.Index
	store      storage.Storage
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l utils.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithClock sets the clock used for stage timing.
func WithClock(c utils.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithLauncher replaces the worker process launcher.
func WithLauncher(l orchestrator.Launcher) Option {
	return func(b *Builder) { b.launcher = l }
}

// WithWorkerArgs sets arguments appended to every worker command line,
// e.g. the --config flag of the parent.
func WithWorkerArgs(args ...string) Option {
	return func(b *Builder) { b.workerArgs = args }
}

// WithIndex uses idx instead of opening the configured index. The caller
// keeps ownership of idx; Build does not close it.
func WithIndex(idx index.Index) Option {
	return func(b *Builder) { b.idx = idx }
}

// WithStorage publishes to store instead of the configured backend.
func WithStorage(store storage.Storage) Option {
	return func(b *Builder) { b.store = store }
}

// NewBuilder creates a Builder for cfg.
func NewBuilder(cfg *config.Config, opts ...Option) (*Builder, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is nil")
	}
	b := &Builder{
		cfg:    cfg,
		filter: filter.New(cfg.Rules),
		logger: &utils.NullLogger{},
		clock:  utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.launcher == nil {
		l, err := orchestrator.NewProcessLauncher(b.workerArgs)
		if err != nil {
			return nil, err
		}
		b.launcher = l
	}
	return b, nil
}

// Build traverses the project, extracts references in worker processes,
// merges them into a graph and saves the artifact. Publishing and
// mirroring run afterwards and only log their failures.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "analyzer.Build")
	defer span.End()

	root, err := b.cfg.ProjectRoot()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "resolve project root", err)
	}
	artifactPath, err := b.cfg.ArtifactPath()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "resolve artifact path", err)
	}
	workDir, err := b.cfg.WorkDir()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "resolve work dir", err)
	}
	ct, err := compression.ParseType(b.cfg.Analysis.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "compression", err)
	}

	timer := utils.NewStageTimer("build", utils.WithClock(b.clock), utils.WithLogger(b.logger))
	res := &Result{ArtifactPath: artifactPath}
	b.logger.Info("building dependency graph of %s", root)

	var entries []traverse.Entry
	err = timer.Run(StageTraverse, func() error {
		entries, err = b.traverse(ctx, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Entries = len(entries)
	span.SetAttributes(attribute.Int("assetgraph.entries", len(entries)))

	// The index is opened while the workers run and joined before merge.
	var (
		idx     index.Index
		results []orchestrator.ShardResult
	)
	err = timer.Run(StageExtract, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			idx, err = b.openIndex()
			return err
		})
		g.Go(func() error {
			orch := orchestrator.New(orchestrator.Options{
				WorkerCount:   b.cfg.Analysis.WorkerCount,
				WorkDir:       workDir,
				Compression:   ct,
				KeepWorkFiles: b.cfg.Analysis.KeepWorkFiles,
				ShardRetries:  b.cfg.Analysis.ShardRetries,
			}, b.launcher, b.logger.WithField("component", "orchestrator"))
			var err error
			results, err = orch.Run(gctx, entries)
			return err
		})
		return g.Wait()
	})
	if idx != nil && b.idx == nil {
		defer idx.Close()
	}
	if err != nil {
		return nil, err
	}

	refs := make([]extract.References, 0, len(results))
	for _, r := range results {
		res.Shards++
		if r.Err != nil {
			res.FailedShards++
		}
		if r.Refs != nil {
			refs = append(refs, r.Refs)
		}
	}

	resolver := resolve.New(root, idx, b.logger)
	err = timer.Run(StageMerge, func() error {
		m := merge.New(resolver, b.filter, merge.Options{
			Workers:     b.cfg.Analysis.MergeWorkers,
			ContentHash: b.cfg.Analysis.ContentHash,
			Logger:      b.logger.WithField("component", "merge"),
		})
		res.Graph, err = m.Merge(ctx, refs)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.LookupFailures = resolver.LookupFailures()

	err = timer.Run(StageSave, func() error {
		res.Snapshot, err = snapshot.Save(res.Graph, artifactPath, snapshot.Options{
			Compression: ct,
			Level:       compression.LevelDefault,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	st := res.Graph.Stats()
	b.logger.Info("saved %s: %d nodes (%d assets, %d packages, %d folders), %d edges, %d bytes",
		artifactPath, st.Nodes, st.Assets, st.Packages, st.Folders, st.Edges, res.Snapshot.CompressedSize)

	if b.store != nil || storage.Enabled(&b.cfg.Storage) {
		_ = timer.Run(StagePublish, func() error {
			url, err := b.publish(ctx, artifactPath)
			if err != nil {
				b.logger.Warn("publish failed, artifact kept locally: %v", err)
				return err
			}
			res.PublishedURL = url
			return nil
		})
	}
	if b.cfg.Mirror.Enabled {
		_ = timer.Run(StageMirror, func() error {
			n, counts, err := b.mirror(ctx, res.Graph)
			if err != nil {
				b.logger.Warn("mirror failed: %v", err)
				return err
			}
			res.MirroredRows = n
			res.MirrorTables = counts
			return nil
		})
	}

	timer.LogSummary()
	res.Stages = timer.Stages()
	return res, nil
}

// traverse lists every configured scan dir. Each scan dir is itself an
// entry so its direct children become folder dependencies.
func (b *Builder) traverse(ctx context.Context, root string) ([]traverse.Entry, error) {
	var entries []traverse.Entry
	scanned := 0
	for _, dir := range b.cfg.Project.ScanDirs {
		abs := filepath.Join(root, dir)
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			b.logger.Warn("scan dir %s is not a directory, skipped", abs)
			continue
		}
		scanned++
		if filepath.Clean(abs) != filepath.Clean(root) {
			entries = append(entries, traverse.Entry{Path: filepath.ToSlash(abs), IsDir: true})
		}
		found, err := traverse.Traverse(ctx, abs, b.filter, traverse.Options{
			Workers: b.cfg.Analysis.TraverseWorkers,
			Logger:  b.logger.WithField("component", "traverse"),
		})
		if err != nil {
			return nil, fmt.Errorf("traverse %s: %w", abs, err)
		}
		entries = append(entries, found...)
	}
	if scanned == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput,
			fmt.Sprintf("none of the scan dirs [%s] exist under %s", strings.Join(b.cfg.Project.ScanDirs, ", "), root))
	}
	return entries, nil
}

func (b *Builder) openIndex() (index.Index, error) {
	if b.idx != nil {
		return b.idx, nil
	}
	return index.Open(b.cfg, b.logger.WithField("component", "index"))
}

func (b *Builder) publish(ctx context.Context, artifactPath string) (string, error) {
	store := b.store
	if store == nil {
		var err error
		store, err = storage.NewStorage(&b.cfg.Storage)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeStorageError, "create storage", err)
		}
	}
	return storage.NewPublisher(store, b.cfg.Storage.Key, b.logger).Publish(ctx, artifactPath)
}

func (b *Builder) mirror(ctx context.Context, g *graph.Graph) (int, map[string]int64, error) {
	m, err := mirror.Open(ctx, b.cfg.Mirror, b.logger.WithField("component", "mirror"))
	if err != nil {
		return 0, nil, err
	}
	defer m.Close()

	n, err := m.Sync(ctx, g)
	if err != nil {
		return 0, nil, err
	}
	counts, err := m.Count(ctx)
	if err != nil {
		return n, nil, err
	}
	for table, rows := range counts {
		b.logger.Debug("mirror table %s: %d rows", table, rows)
	}
	return n, counts, nil
}
