// Package mirror copies a dependency graph into SQL tables (asset_nodes,
// folder_nodes, package_nodes) for tools that prefer querying a database
// over loading the artifact.
package mirror

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

const (
	defaultBatchSize = 500
	findCacheSize    = 1024
)

// Options configures a Mirror.
type Options struct {
	BatchSize int
	Logger    utils.Logger
}

// Mirror writes graph nodes into SQL tables.
type Mirror struct {
	db        *gorm.DB
	batchSize int
	logger    utils.Logger
	findCache *lru.Cache[string, *Record]
}

// NewGormDB opens the database described by cfg.
func NewGormDB(cfg config.MirrorConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable OpenTelemetry tracing if OTEL_ENABLED=true
	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(maxConns/2, 1))
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Open connects to the configured database and creates the tables.
func Open(ctx context.Context, cfg config.MirrorConfig, log utils.Logger) (*Mirror, error) {
	db, err := NewGormDB(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMirrorError, "open mirror database", err)
	}
	m := New(db, Options{BatchSize: cfg.BatchSize, Logger: log})
	if err := m.Migrate(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// New wraps an open database.
func New(db *gorm.DB, opts Options) *Mirror {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	cache, _ := lru.New[string, *Record](findCacheSize)
	return &Mirror{db: db, batchSize: opts.BatchSize, logger: opts.Logger, findCache: cache}
}

// Migrate creates or updates the node tables.
func (m *Mirror) Migrate(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&AssetNode{}, &FolderNode{}, &PackageNode{}); err != nil {
		return apperrors.Wrap(apperrors.CodeMirrorError, "migrate mirror tables", err)
	}
	return nil
}

// Sync replaces the content of the node tables with g in one transaction.
// It returns the number of rows written.
func (m *Mirror) Sync(ctx context.Context, g *graph.Graph) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "mirror.Sync")
	defer span.End()

	rows := make(map[string][]NodeColumns, len(tables))
	for _, n := range g.Nodes() {
		c, err := columnsOf(n)
		if err != nil {
			return 0, apperrors.Wrapf(apperrors.CodeMirrorError, err, "encode %s", n.Path())
		}
		name := tableFor(n.Kind)
		rows[name] = append(rows[name], c)
	}

	written := 0
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tables {
			if err := tx.Exec("DELETE FROM " + t.name).Error; err != nil {
				return fmt.Errorf("clean %s: %w", t.name, err)
			}
			batch := rows[t.name]
			if len(batch) == 0 {
				continue
			}
			if err := tx.Table(t.name).CreateInBatches(&batch, m.batchSize).Error; err != nil {
				return fmt.Errorf("insert into %s: %w", t.name, err)
			}
			written += len(batch)
		}
		return nil
	})
	m.findCache.Purge()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeMirrorError, "sync mirror", err)
	}
	m.logger.Info("mirrored %d nodes", written)
	return written, nil
}

// Upsert inserts or updates one node, moving it between tables if its kind
// changed.
func (m *Mirror) Upsert(ctx context.Context, n *graph.Node) error {
	c, err := columnsOf(n)
	if err != nil {
		return apperrors.Wrapf(apperrors.CodeMirrorError, err, "encode %s", n.Path())
	}
	target := tableFor(n.Kind)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tables {
			if t.name == target {
				continue
			}
			if err := tx.Table(t.name).Where("path = ?", c.Path).Delete(&NodeColumns{}).Error; err != nil {
				return err
			}
		}
		return tx.Table(target).Clauses(clause.OnConflict{UpdateAll: true}).Create(&c).Error
	})
	m.findCache.Remove(c.Path)
	if err != nil {
		return apperrors.Wrapf(apperrors.CodeMirrorError, err, "upsert %s", c.Path)
	}
	return nil
}

// Delete removes path from every table.
func (m *Mirror) Delete(ctx context.Context, path string) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tables {
			if err := tx.Table(t.name).Where("path = ?", path).Delete(&NodeColumns{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	m.findCache.Remove(path)
	if err != nil {
		return apperrors.Wrapf(apperrors.CodeMirrorError, err, "delete %s", path)
	}
	return nil
}

// Find returns the mirrored node for path.
func (m *Mirror) Find(ctx context.Context, path string) (*Record, error) {
	if r, ok := m.findCache.Get(path); ok {
		return r, nil
	}
	for _, t := range tables {
		var rows []NodeColumns
		err := m.db.WithContext(ctx).Table(t.name).Where("path = ?", path).Limit(1).Find(&rows).Error
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.CodeMirrorError, err, "find %s", path)
		}
		if len(rows) == 0 {
			continue
		}
		r, err := rows[0].toRecord(t.kind)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.CodeMirrorError, err, "decode %s", path)
		}
		m.findCache.Add(path, r)
		return r, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("node not found: %s", path))
}

// Count returns the number of rows per table.
func (m *Mirror) Count(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := m.db.WithContext(ctx).Table(t.name).Count(&n).Error; err != nil {
			return nil, apperrors.Wrapf(apperrors.CodeMirrorError, err, "count %s", t.name)
		}
		out[t.name] = n
	}
	return out, nil
}

// Close closes the database connection.
func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
