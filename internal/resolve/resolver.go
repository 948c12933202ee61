// Package resolve maps raw reference tokens (paths or GUIDs) to canonical
// identifiers: lower-case, forward-slash, project-relative paths.
package resolve

import (
	"context"
	"path"
	"strings"
	"sync/atomic"

	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/pkg/utils"
)

// PackagesRoot is the virtual root of packages resolved from the package cache.
const PackagesRoot = "packages/"

const packageCacheDir = "library/packagecache/"

// Resolver canonicalizes tokens against a project root and a read-only
// GUID index. It never mutates anything but its own failure counter.
type Resolver struct {
	root   string // lower-case, forward slashes, trailing slash
	index  index.Index
	logger utils.Logger

	lookupFailures atomic.Int64
}

// New creates a resolver for the project rooted at root.
func New(root string, idx index.Index, logger utils.Logger) *Resolver {
	if idx == nil {
		idx = index.Empty{}
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	r := strings.ToLower(strings.ReplaceAll(root, "\\", "/"))
	r = strings.TrimSuffix(r, "/") + "/"
	return &Resolver{root: r, index: idx, logger: logger}
}

// Resolve maps a token to a canonical path. A GUID-shaped token is looked
// up in the index; when absent the lower-cased GUID is its own identity.
// Any other token is treated as a path and canonicalized.
func (r *Resolver) Resolve(ctx context.Context, token string) string {
	if index.IsGUID(token) {
		guid := strings.ToLower(token)
		p, ok, err := r.index.PathByGUID(ctx, guid)
		if err != nil {
			r.lookupFailed(err, guid)
			return guid
		}
		if !ok || p == "" {
			return guid
		}
		return r.Canonicalize(p)
	}
	return r.Canonicalize(token)
}

// Canonicalize normalizes separators, lower-cases and makes p relative to
// the project root. Paths under <root>/Library/PackageCache map to the
// packages/ virtual root. Paths outside the project stay absolute.
func (r *Resolver) Canonicalize(p string) string {
	s := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	if s == "" {
		return s
	}

	switch {
	case strings.HasPrefix(s, r.root+packageCacheDir):
		return PackagesRoot + strings.TrimPrefix(s, r.root+packageCacheDir)
	case s+"/" == r.root:
		return ""
	case strings.HasPrefix(s, r.root):
		s = strings.TrimPrefix(s, r.root)
	case path.IsAbs(s) || isDriveAbs(s):
		return path.Clean(s)
	}

	s = path.Clean(s)
	s = strings.TrimPrefix(s, "/")
	if s == "." {
		return ""
	}
	return s
}

// GUIDOf returns the GUID recorded for a canonical path, or "".
func (r *Resolver) GUIDOf(ctx context.Context, canonical string) string {
	g, ok, err := r.index.GUIDByPath(ctx, canonical)
	if err != nil {
		r.lookupFailed(err, canonical)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.ToLower(g)
}

// LookupFailures returns how many index lookups failed with an error.
func (r *Resolver) LookupFailures() int64 {
	return r.lookupFailures.Load()
}

func (r *Resolver) lookupFailed(err error, key string) {
	// Only the first failure is logged; a broken backend fails every lookup.
	if r.lookupFailures.Add(1) == 1 {
		r.logger.Warn("guid index lookup for %s failed, treating as unresolved: %v", key, err)
	}
}

func isDriveAbs(s string) bool {
	return len(s) >= 3 && s[1] == ':' && s[2] == '/' && s[0] >= 'a' && s[0] <= 'z'
}
