// Package orchestrator partitions traversal entries into shards and runs
// each shard in its own worker process, exchanging work through task and
// result files.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/compression"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/parallel"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// Options configures an Orchestrator.
type Options struct {
	WorkerCount   int
	WorkDir       string
	Compression   compression.Type
	KeepWorkFiles bool
	// ShardRetries relaunches a failed shard up to this many times before
	// accepting what it produced.
	ShardRetries int
	// ProgressInterval is how often worker completion is logged while a run
	// is in flight. Zero uses the tracker default.
	ProgressInterval time.Duration
}

// ShardResult is what one shard contributed. Err is set when the worker
// failed; Refs then holds whatever its result file contained, or nil.
type ShardResult struct {
	Index   int
	Entries int
	Refs    extract.References
	Err     error
}

// Orchestrator runs the process tier of the pipeline.
type Orchestrator struct {
	opts     Options
	launcher Launcher
	logger   utils.Logger
}

// New creates an orchestrator.
func New(opts Options, launcher Launcher, logger utils.Logger) *Orchestrator {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Orchestrator{opts: opts, launcher: launcher, logger: logger}
}

// Run partitions entries, launches one worker per shard and waits for all
// of them. Worker failures are logged and contained per shard; only work
// directory I/O and cancellation return an error.
func (o *Orchestrator) Run(ctx context.Context, entries []traverse.Entry) ([]ShardResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.Run")
	defer span.End()

	parts := Partition(entries, o.opts.WorkerCount)
	span.SetAttributes(attribute.Int("assetgraph.shards", len(parts)))
	if len(parts) == 0 {
		return nil, nil
	}

	runDir := filepath.Join(o.opts.WorkDir, uuid.NewString())
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArtifactIO, "create work directory", err)
	}
	if o.opts.KeepWorkFiles {
		o.logger.Info("keeping work files in %s", runDir)
	} else {
		defer os.RemoveAll(runDir)
	}

	shards := make([]Shard, len(parts))
	for i, part := range parts {
		shards[i] = Shard{
			Index:      i,
			Entries:    len(part),
			TaskPath:   filepath.Join(runDir, fmt.Sprintf("task-%d.bin", i)),
			ResultPath: filepath.Join(runDir, fmt.Sprintf("result-%d.bin", i)),
		}
		if err := WriteTaskFile(shards[i].TaskPath, part, o.opts.Compression); err != nil {
			return nil, apperrors.Wrapf(apperrors.CodeArtifactIO, err, "write task file %d", i)
		}
	}
	o.logger.Info("launching %d workers for %d entries", len(shards), len(entries))

	progress := parallel.NewProgressTracker(int64(len(shards)), func(done, total int64) {
		o.logger.Info("workers finished: %d/%d", done, total)
	}, o.opts.ProgressInterval)
	progress.Start(ctx)

	pool := parallel.NewWorkerPool[Shard, ShardResult](parallel.PoolConfig{MaxWorkers: len(shards)})
	outcomes := pool.ExecuteFunc(ctx, shards, func(ctx context.Context, s Shard) (ShardResult, error) {
		defer progress.Increment()
		return o.runShard(ctx, s), nil
	})
	progress.Stop()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]ShardResult, len(outcomes))
	failed := 0
	for i, out := range outcomes {
		results[i] = out.Result
		if out.Result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		o.logger.Warn("%d of %d shards failed, graph will be incomplete", failed, len(shards))
	}
	span.SetAttributes(attribute.Int("assetgraph.failed_shards", failed))
	return results, nil
}

func (o *Orchestrator) runShard(ctx context.Context, s Shard) ShardResult {
	var res ShardResult
	for attempt := 0; attempt <= o.opts.ShardRetries; attempt++ {
		if attempt > 0 {
			o.logger.Warn("retrying shard %d (attempt %d of %d)", s.Index, attempt+1, o.opts.ShardRetries+1)
		}
		res = o.attempt(ctx, s)
		if res.Err == nil || ctx.Err() != nil {
			break
		}
	}
	return res
}

func (o *Orchestrator) attempt(ctx context.Context, s Shard) ShardResult {
	res := ShardResult{Index: s.Index, Entries: s.Entries}
	_ = os.Remove(s.ResultPath)

	launchErr := o.launcher.Launch(ctx, s)
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}
	if launchErr != nil {
		o.logger.Warn("shard %d: worker exited abnormally: %v", s.Index, launchErr)
		res.Err = apperrors.Wrapf(apperrors.CodeWorkerFailed, launchErr, "shard %d", s.Index)
	}

	refs, err := ReadResultFile(s.ResultPath)
	if err != nil {
		o.logger.Warn("shard %d: result unusable, shard contributes nothing: %v", s.Index, err)
		if res.Err == nil {
			res.Err = apperrors.Wrapf(apperrors.CodeResultCorrupt, err, "shard %d", s.Index)
		}
		return res
	}
	if launchErr != nil {
		o.logger.Warn("shard %d: using %d sources from the failed worker's result file", s.Index, refs.Len())
	}
	res.Refs = refs
	return res
}
