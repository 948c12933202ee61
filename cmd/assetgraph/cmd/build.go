package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asset-graph/internal/analyzer"
)

var (
	buildWorkers  int
	buildArtifact string
	buildWorkDir  string
	buildKeep     bool
	buildRetries  int
	buildPublish  bool
	buildNoMirror bool
	buildScanDirs []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the dependency graph and save the artifact",
	Long: `Build traverses the configured scan dirs, analyzes the files in worker
processes, merges their references into one dependency graph and saves it
as a binary artifact (default <root>/Library/dependencyGraph.bin).

A worker that crashes only loses its own shard; the build still writes an
artifact and reports the failed shards. With storage configured (or
--publish and a storage type) the artifact is published afterwards; with
mirror.enabled the graph is also written to the SQL mirror.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().IntVarP(&buildWorkers, "workers", "w", 0, "Number of worker processes (overrides analysis.worker_count)")
	buildCmd.Flags().StringVarP(&buildArtifact, "output", "o", "", "Artifact path (overrides analysis.artifact_path)")
	buildCmd.Flags().StringVar(&buildWorkDir, "work-dir", "", "Directory for shard task and result files")
	buildCmd.Flags().BoolVar(&buildKeep, "keep-work-files", false, "Keep shard files after the build")
	buildCmd.Flags().IntVar(&buildRetries, "retries", 0, "Relaunch a failed shard up to this many times")
	buildCmd.Flags().StringSliceVar(&buildScanDirs, "scan-dir", nil, "Directory below the root to scan (repeatable, overrides project.scan_dirs)")
	buildCmd.Flags().BoolVar(&buildPublish, "publish", false, "Publish to local storage when storage.type is none")
	buildCmd.Flags().BoolVar(&buildNoMirror, "no-mirror", false, "Skip the SQL mirror even when enabled")
}

func runBuild(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Analysis.WorkerCount = buildWorkers
	}
	if flags.Changed("output") {
		cfg.Analysis.ArtifactPath = buildArtifact
	}
	if flags.Changed("work-dir") {
		cfg.Analysis.WorkDir = buildWorkDir
	}
	if flags.Changed("keep-work-files") {
		cfg.Analysis.KeepWorkFiles = buildKeep
	}
	if flags.Changed("retries") {
		cfg.Analysis.ShardRetries = buildRetries
	}
	if flags.Changed("scan-dir") {
		cfg.Project.ScanDirs = buildScanDirs
	}
	if buildPublish && cfg.Storage.Type == "none" {
		cfg.Storage.Type = "local"
	}
	if buildNoMirror {
		cfg.Mirror.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	b, err := analyzer.NewBuilder(cfg,
		analyzer.WithLogger(logger),
		analyzer.WithWorkerArgs(workerArgs()...),
	)
	if err != nil {
		return err
	}
	res, err := b.Build(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := res.Graph.Stats()
	fmt.Fprintf(out, "Artifact:  %s\n", res.ArtifactPath)
	fmt.Fprintf(out, "Entries:   %d\n", res.Entries)
	fmt.Fprintf(out, "Nodes:     %d (%d assets, %d packages, %d folders)\n", st.Nodes, st.Assets, st.Packages, st.Folders)
	fmt.Fprintf(out, "Edges:     %d\n", st.Edges)
	fmt.Fprintf(out, "Shards:    %d (%d failed)\n", res.Shards, res.FailedShards)
	if res.LookupFailures > 0 {
		fmt.Fprintf(out, "Index lookup failures: %d\n", res.LookupFailures)
	}
	if res.PublishedURL != "" {
		fmt.Fprintf(out, "Published: %s\n", res.PublishedURL)
	}
	if res.MirroredRows > 0 {
		fmt.Fprintf(out, "Mirrored:  %d rows\n", res.MirroredRows)
	}
	for _, s := range res.Stages {
		fmt.Fprintf(out, "  %-9s %v\n", s.Name, s.Duration)
	}
	return nil
}
