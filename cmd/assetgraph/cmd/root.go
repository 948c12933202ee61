// Package cmd implements the assetgraph command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/asset-graph/pkg/config"
	"github.com/asset-graph/pkg/pprof"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

var (
	// Global flags
	cfgFile         string
	envFile         string
	projectRoot     string
	compressionName string
	verbose         bool
	logLevel        string
	logFormat       string
	logFile         string

	// Pprof flags
	pprofEnabled  bool
	pprofDir      string
	pprofProfiles string

	cfg               *config.Config
	logger            utils.Logger = &utils.NullLogger{}
	shutdownTelemetry telemetry.ShutdownFunc
	pprofCollector    *pprof.Collector
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assetgraph",
	Short: "Build and query a project-wide asset dependency graph",
	Long: `assetgraph walks a project's asset tree, extracts the references of
every asset in isolated worker processes and merges them into a dependency
graph that records, for every asset, what it uses and what uses it.

The graph is saved as one compact binary artifact that the query commands
read without re-scanning the project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}

		logger, err = newLogger()
		if err != nil {
			return err
		}
		utils.SetGlobalLogger(logger)

		shutdownTelemetry, err = telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("tracing disabled: %v", err)
		}

		if pprofEnabled {
			profiles, err := pprof.ParseProfileTypes(pprofProfiles)
			if err != nil {
				return err
			}
			pprofCollector, err = pprof.NewCollector(pprof.Config{Dir: pprofDir, Profiles: profiles})
			if err != nil {
				return err
			}
			if err := pprofCollector.Start(); err != nil {
				return err
			}
			logger.Info("pprof collection started (dir: %s)", pprofDir)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		cleanup()
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Path to configuration file (default ./assetgraph.yaml or ./configs/assetgraph.yaml)")
	pf.StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")
	pf.StringVarP(&projectRoot, "root", "r", "", "Project root (overrides project.root)")
	pf.StringVar(&compressionName, "compression", "", "Compression of artifact and shard files: zstd, gzip or none")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log.level)")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides log.format)")
	pf.StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")

	pf.BoolVar(&pprofEnabled, "pprof", false, "Profile the command with runtime/pprof")
	pf.StringVar(&pprofDir, "pprof-dir", "./pprof", "Output directory for pprof data")
	pf.StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")

	binName := BinName()
	rootCmd.Example = `  # Build the graph of the project in the current directory
  ` + binName + ` build

  # Build with 16 workers and publish the artifact
  ` + binName + ` build -r ~/game -w 16 --publish

  # How many assets use a material?
  ` + binName + ` query refcount Assets/Materials/Hero.mat

  # Import the editor's GUID table into the index
  ` + binName + ` index import Library/path2guid.json`
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// applyFlagOverrides copies explicitly set global flags over the loaded
// configuration.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Project.Root = projectRoot
	}
	if flags.Changed("compression") {
		cfg.Analysis.Compression = compressionName
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.OutputPath = logFile
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
}

func newLogger() (utils.Logger, error) {
	level := utils.ParseLogLevel(cfg.Log.Level)
	format := utils.ParseLogFormat(cfg.Log.Format)
	if cfg.Log.OutputPath != "" {
		return utils.NewFileLogger(level, format, cfg.Log.OutputPath)
	}
	return utils.NewFormattedLogger(level, format, os.Stderr), nil
}

// workerArgs returns the global flags a worker process needs to see the
// same configuration as its parent.
func workerArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	args = append(args, "--env-file", envFile, "--compression", cfg.Analysis.Compression, "--log-level", cfg.Log.Level)
	if logFormat != "" {
		args = append(args, "--log-format", logFormat)
	}
	if logFile != "" {
		args = append(args, "--log-file", logFile)
	}
	return args
}

func cleanup() {
	if pprofCollector != nil {
		files, err := pprofCollector.Stop()
		if err != nil {
			logger.Warn("failed to stop pprof collector: %v", err)
		}
		if len(files) > 0 {
			logger.Info("pprof data saved to: %s", pprofCollector.Dir())
		}
		pprofCollector = nil
	}
	if shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("failed to flush traces: %v", err)
		}
		shutdownTelemetry = nil
	}
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}
