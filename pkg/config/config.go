// Package config provides configuration management for assetgraph.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ASSETGRAPH_ANALYSIS_WORKER_COUNT.
const EnvPrefix = "ASSETGRAPH"

// Config holds all configuration for the application.
type Config struct {
	Project  ProjectConfig  `mapstructure:"project"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Index    IndexConfig    `mapstructure:"index"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Log      LogConfig      `mapstructure:"log"`
}

// ProjectConfig locates the project being analyzed.
type ProjectConfig struct {
	Root string `mapstructure:"root"`
	// ScanDirs are the directories below Root that are traversed.
	ScanDirs []string `mapstructure:"scan_dirs"`
}

// AnalysisConfig holds pipeline configuration.
type AnalysisConfig struct {
	WorkerCount      int      `mapstructure:"worker_count"`
	WorkDir          string   `mapstructure:"work_dir"`
	ArtifactPath     string   `mapstructure:"artifact_path"`
	Compression      string   `mapstructure:"compression"` // zstd, gzip or none
	MergeWorkers     int      `mapstructure:"merge_workers"`
	TraverseWorkers  int      `mapstructure:"traverse_workers"`
	KeepWorkFiles    bool     `mapstructure:"keep_work_files"`
	ShardRetries     int      `mapstructure:"shard_retries"`
	ContentHash      bool     `mapstructure:"content_hash"`
	ExtractorCommand []string `mapstructure:"extractor_command"`
}

// RulesConfig holds the named rule tables consulted by traversal, extraction and merge.
type RulesConfig struct {
	ExcludeSuffixes   []string          `mapstructure:"exclude_suffixes"`
	AnalyzeExtensions []string          `mapstructure:"analyze_extensions"`
	PackageExtensions []string          `mapstructure:"package_extensions"`
	AssetTypes        map[string]string `mapstructure:"asset_types"`
}

// IndexConfig selects the GUID index backend.
type IndexConfig struct {
	Type      string `mapstructure:"type"` // badger, json, redis or none
	Path      string `mapstructure:"path"`
	RedisURL  string `mapstructure:"redis_url"`
	Prefix    string `mapstructure:"prefix"`
	CacheSize int    `mapstructure:"cache_size"`
}

// StorageConfig holds artifact publishing configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // none, local, cos or s3
	Key       string `mapstructure:"key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`   // cos domain, e.g. "myqcloud.com"
	Endpoint  string `mapstructure:"endpoint"` // s3 endpoint host:port
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// MirrorConfig holds the SQL mirror configuration.
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"` // sqlite, mysql or postgres
	DSN       string `mapstructure:"dsn"`
	BatchSize int    `mapstructure:"batch_size"`
	MaxConns  int    `mapstructure:"max_conns"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty logs to stderr
	Format     string `mapstructure:"format"`      // json or text
}

// Load reads configuration from the specified file path. A missing file
// leaves the defaults in place.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("assetgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("project.root", ".")
	v.SetDefault("project.scan_dirs", []string{"Assets"})

	v.SetDefault("analysis.worker_count", 10)
	v.SetDefault("analysis.work_dir", "")
	v.SetDefault("analysis.artifact_path", "")
	v.SetDefault("analysis.compression", "zstd")
	v.SetDefault("analysis.merge_workers", 8)
	v.SetDefault("analysis.traverse_workers", 16)
	v.SetDefault("analysis.keep_work_files", false)
	v.SetDefault("analysis.shard_retries", 0)
	v.SetDefault("analysis.content_hash", false)

	v.SetDefault("rules.exclude_suffixes", DefaultExcludeSuffixes)
	v.SetDefault("rules.analyze_extensions", DefaultAnalyzeExtensions)
	v.SetDefault("rules.package_extensions", DefaultPackageExtensions)
	v.SetDefault("rules.asset_types", map[string]string{})

	v.SetDefault("index.type", "badger")
	v.SetDefault("index.path", "")
	v.SetDefault("index.prefix", "assetgraph")
	v.SetDefault("index.cache_size", 4096)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.key", "dependencyGraph.bin")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.scheme", "https")

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.driver", "sqlite")
	v.SetDefault("mirror.dsn", "")
	v.SetDefault("mirror.batch_size", 500)
	v.SetDefault("mirror.max_conns", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
	v.SetDefault("log.format", "text")
}

// Default rule tables.
var (
	DefaultExcludeSuffixes   = []string{".meta", ".unitypackage", ".preset", ".backup", ".tmp", ".editor", ".zip", ".scenetemplate"}
	DefaultAnalyzeExtensions = []string{".prefab", ".unity", ".asset", ".mat"}
	DefaultPackageExtensions = []string{".prefab", ".unity"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Analysis.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if len(c.Project.ScanDirs) == 0 {
		return fmt.Errorf("at least one scan dir is required")
	}
	if c.Analysis.ShardRetries < 0 {
		return fmt.Errorf("shard retries must not be negative")
	}
	switch c.Analysis.Compression {
	case "zstd", "gzip", "none":
	default:
		return fmt.Errorf("unsupported compression: %s", c.Analysis.Compression)
	}
	switch c.Index.Type {
	case "badger", "json", "none":
	case "redis":
		if c.Index.RedisURL == "" {
			return fmt.Errorf("index.redis_url is required for redis index")
		}
	default:
		return fmt.Errorf("unsupported index type: %s", c.Index.Type)
	}
	if c.Mirror.Enabled {
		switch c.Mirror.Driver {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("unsupported mirror driver: %s", c.Mirror.Driver)
		}
		if c.Mirror.DSN == "" {
			return fmt.Errorf("mirror.dsn is required when mirror is enabled")
		}
	}

	// Storage config validation is delegated to storage package
	return nil
}

// ProjectRoot returns the absolute project root.
func (c *Config) ProjectRoot() (string, error) {
	return filepath.Abs(c.Project.Root)
}

// ArtifactPath returns the configured artifact path, defaulting to
// <root>/Library/dependencyGraph.bin.
func (c *Config) ArtifactPath() (string, error) {
	if c.Analysis.ArtifactPath != "" {
		return filepath.Abs(c.Analysis.ArtifactPath)
	}
	root, err := c.ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "Library", "dependencyGraph.bin"), nil
}

// WorkDir returns the directory that receives per-run shard files.
func (c *Config) WorkDir() (string, error) {
	if c.Analysis.WorkDir != "" {
		return filepath.Abs(c.Analysis.WorkDir)
	}
	root, err := c.ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "Temp", "assetgraph"), nil
}

// IndexPath returns the configured index location, defaulting to
// <root>/Library/GuidIndex for badger and <root>/Library/path2guid.json for json.
func (c *Config) IndexPath() (string, error) {
	if c.Index.Path != "" {
		return filepath.Abs(c.Index.Path)
	}
	root, err := c.ProjectRoot()
	if err != nil {
		return "", err
	}
	if c.Index.Type == "json" {
		return filepath.Join(root, "Library", "path2guid.json"), nil
	}
	return filepath.Join(root, "Library", "GuidIndex"), nil
}
