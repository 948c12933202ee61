// Package index provides the read-only GUID ⇄ path lookup used by the
// identifier resolver, with badger, redis, JSON and in-memory backends.
package index

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Index answers exact-key lookups in both directions. Implementations are
// safe for concurrent use.
type Index interface {
	// PathByGUID returns the project-relative path of a lower-case GUID.
	PathByGUID(ctx context.Context, guid string) (string, bool, error)
	// GUIDByPath returns the GUID recorded for a project-relative path.
	GUIDByPath(ctx context.Context, path string) (string, bool, error)
	Close() error
}

// Importer is implemented by backends that can be bulk loaded.
type Importer interface {
	Import(ctx context.Context, pathToGUID map[string]string) (int, error)
}

// Dumper is implemented by backends that can list their content.
type Dumper interface {
	Dump(ctx context.Context) (map[string]string, error)
}

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// IsGUID reports whether s has the GUID shape: exactly 32 hex characters.
func IsGUID(s string) bool {
	return len(s) == 32 && guidPattern.MatchString(s)
}

// NormalizePath gives path keys their canonical form: forward slashes,
// lower case. Backends apply it on import and on lookup.
func NormalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

// EncodeGUIDKey converts a GUID into the 16-byte key layout of the engine's
// native asset database: each byte is built from a hex pair with its two
// nibbles swapped.
func EncodeGUIDKey(guid string) ([]byte, error) {
	if !IsGUID(guid) {
		return nil, fmt.Errorf("not a guid: %q", guid)
	}
	swapped := make([]byte, len(guid))
	for i := 0; i < len(guid); i += 2 {
		swapped[i], swapped[i+1] = guid[i+1], guid[i]
	}
	key := make([]byte, 16)
	if _, err := hex.Decode(key, swapped); err != nil {
		return nil, err
	}
	return key, nil
}

// DecodeGUIDKey is the inverse of EncodeGUIDKey and returns a lower-case GUID.
func DecodeGUIDKey(key []byte) (string, error) {
	if len(key) < 16 {
		return "", fmt.Errorf("guid key too short: %d bytes", len(key))
	}
	h := []byte(hex.EncodeToString(key[:16]))
	for i := 0; i < len(h); i += 2 {
		h[i], h[i+1] = h[i+1], h[i]
	}
	return string(h), nil
}

// MemoryIndex is a map-backed index.
type MemoryIndex struct {
	mu       sync.RWMutex
	guidPath map[string]string
	pathGUID map[string]string
}

// NewMemoryIndex creates an index from a path → GUID table.
func NewMemoryIndex(pathToGUID map[string]string) *MemoryIndex {
	m := &MemoryIndex{
		guidPath: make(map[string]string, len(pathToGUID)),
		pathGUID: make(map[string]string, len(pathToGUID)),
	}
	_, _ = m.Import(context.Background(), pathToGUID)
	return m
}

// PathByGUID implements Index.
func (m *MemoryIndex) PathByGUID(_ context.Context, guid string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.guidPath[strings.ToLower(guid)]
	return p, ok, nil
}

// GUIDByPath implements Index.
func (m *MemoryIndex) GUIDByPath(_ context.Context, path string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.pathGUID[NormalizePath(path)]
	return g, ok, nil
}

// Import implements Importer.
func (m *MemoryIndex) Import(_ context.Context, pathToGUID map[string]string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, g := range pathToGUID {
		p, g = NormalizePath(p), strings.ToLower(g)
		m.guidPath[g] = p
		m.pathGUID[p] = g
	}
	return len(pathToGUID), nil
}

// Dump implements Dumper.
func (m *MemoryIndex) Dump(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.pathGUID))
	for p, g := range m.pathGUID {
		out[p] = g
	}
	return out, nil
}

// Close implements Index.
func (m *MemoryIndex) Close() error {
	return nil
}

// Empty is an index that knows nothing; every GUID stays opaque.
type Empty struct{}

// PathByGUID implements Index.
func (Empty) PathByGUID(context.Context, string) (string, bool, error) { return "", false, nil }

// GUIDByPath implements Index.
func (Empty) GUIDByPath(context.Context, string) (string, bool, error) { return "", false, nil }

// Close implements Index.
func (Empty) Close() error { return nil }
