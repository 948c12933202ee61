package index

import (
	"fmt"
	"os"

	"github.com/asset-graph/pkg/config"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/utils"
)

// Open builds the configured index for read access, wrapped in the lookup
// cache. A badger or json index that does not exist yet yields an empty
// index and a warning: every GUID then stays an opaque identity.
func Open(cfg *config.Config, logger utils.Logger) (Index, error) {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	inner, err := openBackend(cfg, logger, true)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIndexError, "open guid index", err)
	}
	return NewCached(inner, cfg.Index.CacheSize)
}

// OpenWritable opens the configured backend for import. Only badger and
// redis can be written.
func OpenWritable(cfg *config.Config, logger utils.Logger) (Index, error) {
	if cfg.Index.Type != "badger" && cfg.Index.Type != "redis" {
		return nil, apperrors.New(apperrors.CodeInvalidInput,
			fmt.Sprintf("index type %q cannot be imported into", cfg.Index.Type))
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	idx, err := openBackend(cfg, logger, false)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIndexError, "open guid index", err)
	}
	return idx, nil
}

func openBackend(cfg *config.Config, logger utils.Logger, readOnly bool) (Index, error) {
	switch cfg.Index.Type {
	case "none":
		return Empty{}, nil
	case "redis":
		return NewRedisIndex(RedisOptions{URL: cfg.Index.RedisURL, Prefix: cfg.Index.Prefix})
	}

	path, err := cfg.IndexPath()
	if err != nil {
		return nil, err
	}

	switch cfg.Index.Type {
	case "json":
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Warn("guid index dump %s not found, guids stay unresolved", path)
			return Empty{}, nil
		}
		return LoadJSON(path)
	case "badger":
		if readOnly {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				logger.Warn("guid index %s not found, guids stay unresolved", path)
				return Empty{}, nil
			}
		}
		return OpenBadger(BadgerConfig{Path: path, ReadOnly: readOnly, Logger: logger.WithField("component", "badger")})
	default:
		return nil, fmt.Errorf("unsupported index type: %s", cfg.Index.Type)
	}
}
