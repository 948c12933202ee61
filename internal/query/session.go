// Package query is the reporting surface over a persisted dependency graph.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/internal/snapshot"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/utils"
)

// Sink receives node changes made through a session, e.g. the SQL mirror.
type Sink interface {
	Upsert(ctx context.Context, n *graph.Node) error
	Delete(ctx context.Context, path string) error
}

// Options configures a Session.
type Options struct {
	// Snapshot controls how Save rewrites the artifact.
	Snapshot snapshot.Options
	// Sink, when set, is kept in step with deletions.
	Sink Sink
}

// Session answers queries against one loaded graph and persists deletions.
type Session struct {
	mu       sync.RWMutex
	g        *graph.Graph
	resolver *resolve.Resolver
	path     string
	opts     Options
	logger   utils.Logger
	dirty    bool
}

// Open loads the artifact at path.
func Open(path string, r *resolve.Resolver, opts Options, logger utils.Logger) (*Session, error) {
	g, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	s := NewSession(g, r, opts, logger)
	s.path = path
	return s, nil
}

// NewSession wraps an in-memory graph. Save fails until the session has
// an artifact path, see SaveAs.
func NewSession(g *graph.Graph, r *resolve.Resolver, opts Options, logger utils.Logger) *Session {
	if r == nil {
		r = resolve.New("", nil, nil)
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Session{g: g, resolver: r, opts: opts, logger: logger}
}

// Graph returns the underlying graph.
func (s *Session) Graph() *graph.Graph {
	return s.g
}

// FindNode returns the node for a project path in any accepted spelling.
func (s *Session) FindNode(path string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.resolver.Canonicalize(path))
}

func (s *Session) find(canonical string) (*graph.Node, error) {
	n, ok := s.g.Find(canonical)
	if !ok {
		return nil, notFound(canonical)
	}
	return n, nil
}

// ReferenceCount returns how many non-folder nodes depend on the node named
// by a path or a GUID.
func (s *Session) ReferenceCount(ctx context.Context, pathOrGUID string) (int, error) {
	canonical := s.resolver.Resolve(ctx, pathOrGUID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.g.ReferenceCount(canonical)
	if err != nil {
		return 0, notFound(canonical)
	}
	return n, nil
}

func notFound(canonical string) error {
	return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("node not found: %s", canonical))
}

// DeleteNode removes the node at path. It refuses with a HAS_DEPENDENTS
// error while non-folder nodes still depend on it, unless force is set.
func (s *Session) DeleteNode(ctx context.Context, path string, force bool) error {
	canonical := s.resolver.Canonicalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.find(canonical)
	if err != nil {
		return err
	}
	refs, err := s.g.ReferenceCount(canonical)
	if err != nil {
		return err
	}
	if refs > 0 && !force {
		return apperrors.New(apperrors.CodeHasDependents,
			fmt.Sprintf("%s is referenced by %d assets", canonical, refs))
	}

	deps := n.Dependencies.Paths()
	if err := s.g.Delete(canonical); err != nil {
		return notFound(canonical)
	}
	s.dirty = true
	s.logger.Info("deleted %s (%d dependents, force=%t)", canonical, refs, force)

	s.syncSink(ctx, canonical, deps)
	return nil
}

func (s *Session) syncSink(ctx context.Context, deleted string, touched []string) {
	if s.opts.Sink == nil {
		return
	}
	if err := s.opts.Sink.Delete(ctx, deleted); err != nil {
		s.logger.Warn("mirror delete %s failed: %v", deleted, err)
		return
	}
	for _, p := range touched {
		d, ok := s.g.Find(p)
		if !ok {
			continue
		}
		if err := s.opts.Sink.Upsert(ctx, d); err != nil {
			s.logger.Warn("mirror update %s failed: %v", p, err)
		}
	}
}

// Unused lists non-folder nodes that no non-folder node depends on,
// ordered by path.
func (s *Session) Unused() []*graph.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graph.Node
	for _, n := range s.g.Nodes() {
		if n.Kind == graph.KindFolder {
			continue
		}
		refs, err := s.g.ReferenceCount(n.Self.Path)
		if err == nil && refs == 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Self.Path < out[j].Self.Path })
	return out
}

// Dirty reports whether the graph changed since it was loaded or saved.
func (s *Session) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Save rewrites the artifact the session was opened from.
func (s *Session) Save() (*snapshot.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "session has no artifact path")
	}
	return s.saveLocked(s.path)
}

// SaveAs writes the graph to path and makes it the session's artifact.
func (s *Session) SaveAs(path string) (*snapshot.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.saveLocked(path)
	if err == nil {
		s.path = path
	}
	return st, err
}

func (s *Session) saveLocked(path string) (*snapshot.Stats, error) {
	st, err := snapshot.Save(s.g, path, s.opts.Snapshot)
	if err != nil {
		return nil, err
	}
	s.dirty = false
	return st, nil
}
