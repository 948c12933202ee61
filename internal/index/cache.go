package index

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedValue struct {
	value string
	found bool
}

// Cached wraps an index with two LRU caches, one per direction. Misses are
// cached too; the index is read-only for the duration of a run.
type Cached struct {
	inner  Index
	byGUID *lru.Cache[string, cachedValue]
	byPath *lru.Cache[string, cachedValue]
}

// NewCached wraps inner. A non-positive size returns inner unchanged.
func NewCached(inner Index, size int) (Index, error) {
	if size <= 0 {
		return inner, nil
	}
	byGUID, err := lru.New[string, cachedValue](size)
	if err != nil {
		return nil, err
	}
	byPath, err := lru.New[string, cachedValue](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, byGUID: byGUID, byPath: byPath}, nil
}

// PathByGUID implements Index.
func (c *Cached) PathByGUID(ctx context.Context, guid string) (string, bool, error) {
	if v, ok := c.byGUID.Get(guid); ok {
		return v.value, v.found, nil
	}
	p, found, err := c.inner.PathByGUID(ctx, guid)
	if err != nil {
		return "", false, err
	}
	c.byGUID.Add(guid, cachedValue{value: p, found: found})
	return p, found, nil
}

// GUIDByPath implements Index.
func (c *Cached) GUIDByPath(ctx context.Context, path string) (string, bool, error) {
	if v, ok := c.byPath.Get(path); ok {
		return v.value, v.found, nil
	}
	g, found, err := c.inner.GUIDByPath(ctx, path)
	if err != nil {
		return "", false, err
	}
	c.byPath.Add(path, cachedValue{value: g, found: found})
	return g, found, nil
}

// Close closes the wrapped index.
func (c *Cached) Close() error {
	return c.inner.Close()
}
