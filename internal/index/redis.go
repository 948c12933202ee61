package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis index.
type RedisOptions struct {
	// URL is the connection string, e.g. "redis://localhost:6379/0".
	URL string
	// Prefix namespaces the two hashes: <prefix>:guid2path and <prefix>:path2guid.
	Prefix         string
	ConnectTimeout time.Duration
}

// RedisIndex keeps both directions in two redis hashes, shared by every
// machine building the same project.
type RedisIndex struct {
	client   *redis.Client
	guidHash string
	pathHash string
}

// NewRedisIndex connects and pings the server.
func NewRedisIndex(opts RedisOptions) (*RedisIndex, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "assetgraph"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIndex{
		client:   client,
		guidHash: opts.Prefix + ":guid2path",
		pathHash: opts.Prefix + ":path2guid",
	}, nil
}

func (r *RedisIndex) hget(ctx context.Context, hash, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, hash, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// PathByGUID implements Index.
func (r *RedisIndex) PathByGUID(ctx context.Context, guid string) (string, bool, error) {
	return r.hget(ctx, r.guidHash, strings.ToLower(guid))
}

// GUIDByPath implements Index.
func (r *RedisIndex) GUIDByPath(ctx context.Context, path string) (string, bool, error) {
	return r.hget(ctx, r.pathHash, NormalizePath(path))
}

// Import implements Importer using one pipeline.
func (r *RedisIndex) Import(ctx context.Context, pathToGUID map[string]string) (int, error) {
	if len(pathToGUID) == 0 {
		return 0, nil
	}
	guidFields := make(map[string]interface{}, len(pathToGUID))
	pathFields := make(map[string]interface{}, len(pathToGUID))
	for p, g := range pathToGUID {
		p, g = NormalizePath(p), strings.ToLower(g)
		guidFields[g] = p
		pathFields[p] = g
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.guidHash, guidFields)
	pipe.HSet(ctx, r.pathHash, pathFields)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("import into redis: %w", err)
	}
	return len(pathToGUID), nil
}

// Dump implements Dumper.
func (r *RedisIndex) Dump(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.pathHash).Result()
}

// Close implements Index.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
