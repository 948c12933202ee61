package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/asset-graph/pkg/utils"
)

var (
	guidPrefix = []byte("g2p/")
	pathPrefix = []byte("p2g/")
)

// BadgerConfig configures a badger-backed index.
type BadgerConfig struct {
	Path     string
	InMemory bool
	ReadOnly bool
	Logger   utils.Logger
}

// BadgerIndex stores GUID → path under g2p/<encoded guid key> and
// path → GUID under p2g/<path>.
type BadgerIndex struct {
	db *badger.DB
}

type badgerLogger struct {
	logger utils.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadger opens (or creates, unless read-only) a badger index.
func OpenBadger(cfg BadgerConfig) (*BadgerIndex, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent index")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0750); err != nil {
				return nil, fmt.Errorf("create index directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

// OpenBadgerInMemory opens an empty in-memory index.
func OpenBadgerInMemory() (*BadgerIndex, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

func (b *BadgerIndex) get(key []byte) (string, bool, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PathByGUID implements Index.
func (b *BadgerIndex) PathByGUID(_ context.Context, guid string) (string, bool, error) {
	key, err := EncodeGUIDKey(guid)
	if err != nil {
		return "", false, nil
	}
	return b.get(append(append([]byte{}, guidPrefix...), key...))
}

// GUIDByPath implements Index.
func (b *BadgerIndex) GUIDByPath(_ context.Context, path string) (string, bool, error) {
	return b.get(append(append([]byte{}, pathPrefix...), NormalizePath(path)...))
}

// Import implements Importer. Entries with malformed GUIDs are skipped.
func (b *BadgerIndex) Import(ctx context.Context, pathToGUID map[string]string) (int, error) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	imported := 0
	for p, g := range pathToGUID {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		p, g = NormalizePath(p), strings.ToLower(g)
		key, err := EncodeGUIDKey(g)
		if err != nil {
			continue
		}
		if err := wb.Set(append(append([]byte{}, guidPrefix...), key...), []byte(p)); err != nil {
			return imported, fmt.Errorf("stage guid %s: %w", g, err)
		}
		if err := wb.Set(append(append([]byte{}, pathPrefix...), p...), []byte(g)); err != nil {
			return imported, fmt.Errorf("stage path %s: %w", p, err)
		}
		imported++
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush index batch: %w", err)
	}
	return imported, nil
}

// Dump implements Dumper by walking the path → GUID keys.
func (b *BadgerIndex) Dump(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pathPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			p := string(item.Key()[len(pathPrefix):])
			if err := item.Value(func(val []byte) error {
				out[p] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Index.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
