package analyzer

import (
	"context"
	"os"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/orchestrator"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/compression"
	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// WorkerOptions configures RunWorker.
type WorkerOptions struct {
	TaskPath   string
	ResultPath string
	// Extractor overrides the configured extraction chain.
	Extractor extract.Extractor
	Logger    utils.Logger
}

// DefaultExtractor returns the extraction chain for cfg: the external
// extractor command when configured, then the built-in YAML extractor.
// Files neither understands fall back to the GUID scan.
func DefaultExtractor(cfg *config.Config) extract.Extractor {
	chain := extract.Chain{}
	if cmd := extract.NewCommandExtractor(cfg.Analysis.ExtractorCommand); cmd != nil {
		chain = append(chain, cmd)
	}
	return append(chain, extract.SerializedTextExtractor{})
}

// RunWorker analyzes one shard: it reads the task file, dispatches every
// entry and writes the result file. It returns the number of sources
// written.
func RunWorker(ctx context.Context, cfg *config.Config, opts WorkerOptions) (int, error) {
	ctx = telemetry.ExtractEnv(ctx)
	ctx, span := telemetry.StartSpan(ctx, "analyzer.RunWorker")
	defer span.End()

	if opts.TaskPath == "" || opts.ResultPath == "" {
		return 0, apperrors.New(apperrors.CodeInvalidInput, "worker needs both --task and --result")
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	if opts.Extractor == nil {
		opts.Extractor = DefaultExtractor(cfg)
	}
	ct, err := compression.ParseType(cfg.Analysis.Compression)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeConfigError, "compression", err)
	}

	d := extract.NewDefaultDispatcher(filter.New(cfg.Rules), opts.Extractor, opts.Logger)
	n, err := orchestrator.ServeTask(ctx, opts.TaskPath, opts.ResultPath, ct,
		func(ctx context.Context, entries []traverse.Entry) (extract.References, error) {
			opts.Logger.Debug("worker %d analyzing %d entries", os.Getpid(), len(entries))
			return d.Run(ctx, entries)
		})
	if err != nil {
		return 0, err
	}
	opts.Logger.Debug("worker %d wrote %d sources to %s", os.Getpid(), n, opts.ResultPath)
	return n, nil
}
