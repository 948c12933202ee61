// Package graph holds the in-memory asset dependency graph: identifiers,
// nodes, bidirectional edges, finalization and the deletion contract.
package graph

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/asset-graph/pkg/errors"
)

const shardCount = 64

var (
	// ErrFrozen is returned when edges are added after Finalize.
	ErrFrozen = apperrors.New(apperrors.CodeInvalidInput, "graph is finalized")
	// ErrNotFound is returned for unknown paths.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "node not found")
)

type shard struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// Graph maps paths to nodes. The map is lock-striped so concurrent merge
// workers rarely contend; GetOrCreate is atomic per key.
type Graph struct {
	shards [shardCount]shard
	frozen atomic.Bool
}

// New creates an empty graph.
func New() *Graph {
	g := &Graph{}
	for i := range g.shards {
		g.shards[i].nodes = make(map[string]*Node)
	}
	return g
}

func (g *Graph) shardFor(path string) *shard {
	return &g.shards[xxhash.Sum64String(path)&(shardCount-1)]
}

// GetOrCreate returns the node for id.Path, creating it with the given
// metadata if absent. Concurrent callers with the same path always get the
// same node. The boolean reports whether this call created it.
func (g *Graph) GetOrCreate(id Identifier, kind NodeKind) (*Node, bool) {
	s := g.shardFor(id.Path)

	s.mu.RLock()
	n, ok := s.nodes[id.Path]
	s.mu.RUnlock()
	if ok {
		return n, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id.Path]; ok {
		return n, false
	}
	n = newNode(id, kind)
	s.nodes[id.Path] = n
	return n, true
}

// Observe returns the node for id.Path with its metadata set from the
// node's own traversal entry, replacing provisional metadata.
func (g *Graph) Observe(id Identifier, kind NodeKind) *Node {
	n, created := g.GetOrCreate(id, kind)
	if !created {
		n.observe(id, kind)
	}
	return n
}

// AddEdge records that from depends on to. Recording the same edge twice
// has no further effect once the graph is finalized.
func (g *Graph) AddEdge(from, to *Node) error {
	if g.frozen.Load() {
		return ErrFrozen
	}
	from.appendDependency(to.path)
	to.appendDependent(from.path)
	return nil
}

// Finalize converts every node's edge buffers into deduplicated sets of
// the referenced nodes' final identifiers and freezes the graph. Calling it
// again is a no-op.
func (g *Graph) Finalize() {
	if !g.frozen.CompareAndSwap(false, true) {
		return
	}

	var wg sync.WaitGroup
	for i := range g.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			s.mu.RLock()
			nodes := make([]*Node, 0, len(s.nodes))
			for _, n := range s.nodes {
				nodes = append(nodes, n)
			}
			s.mu.RUnlock()

			for _, n := range nodes {
				n.mu.Lock()
				for _, p := range n.depBuf {
					n.Dependencies.Add(g.identifierOf(p))
				}
				for _, p := range n.dependentBuf {
					n.Dependents.Add(g.identifierOf(p))
				}
				n.depBuf, n.dependentBuf = nil, nil
				n.mu.Unlock()
			}
		}(&g.shards[i])
	}
	wg.Wait()
}

func (g *Graph) identifierOf(path string) Identifier {
	if n, ok := g.Find(path); ok {
		return n.Self
	}
	return Identifier{Path: path}
}

// Frozen reports whether Finalize has run.
func (g *Graph) Frozen() bool {
	return g.frozen.Load()
}

// Freeze marks a graph assembled from finalized nodes (see Put) as final.
func (g *Graph) Freeze() {
	g.frozen.Store(true)
}

// Put inserts a finalized node, replacing any node with the same path.
func (g *Graph) Put(n *Node) {
	s := g.shardFor(n.Self.Path)
	s.mu.Lock()
	s.nodes[n.Self.Path] = n
	s.mu.Unlock()
}

// Find returns the node for path.
func (g *Graph) Find(path string) (*Node, bool) {
	s := g.shardFor(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[path]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	total := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		total += len(s.nodes)
		s.mu.RUnlock()
	}
	return total
}

// Nodes returns all nodes ordered by path.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.Len())
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for _, n := range s.nodes {
			out = append(out, n)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Self.Path < out[j].Self.Path
	})
	return out
}

// ReferenceCount returns the number of dependents of path that are not
// folders. Folder containment is not a reference.
func (g *Graph) ReferenceCount(path string) (int, error) {
	n, ok := g.Find(path)
	if !ok {
		return 0, ErrNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, id := range n.Dependents {
		if !id.IsFolder() {
			count++
		}
	}
	return count, nil
}

// Delete removes path from the graph: path is dropped from the Dependents
// of each of its dependencies, then the node itself is removed. Nodes that
// depended on path keep it in their Dependencies as an orphaned identifier.
func (g *Graph) Delete(path string) error {
	n, ok := g.Find(path)
	if !ok {
		return ErrNotFound
	}

	n.mu.Lock()
	deps := n.Dependencies.Paths()
	n.mu.Unlock()

	for _, p := range deps {
		if d, ok := g.Find(p); ok {
			d.mu.Lock()
			d.Dependents.Remove(path)
			d.mu.Unlock()
		}
	}

	s := g.shardFor(path)
	s.mu.Lock()
	delete(s.nodes, path)
	s.mu.Unlock()
	return nil
}

// Stats summarizes a graph.
type Stats struct {
	Nodes    int
	Assets   int
	Folders  int
	Packages int
	Edges    int
}

// Stats counts nodes by kind and dependency edges.
func (g *Graph) Stats() Stats {
	var st Stats
	for _, n := range g.Nodes() {
		st.Nodes++
		switch n.Kind {
		case KindFolder:
			st.Folders++
		case KindPackage:
			st.Packages++
		default:
			st.Assets++
		}
		st.Edges += n.Dependencies.Len()
	}
	return st
}

// Equal reports whether two graphs hold the same nodes with the same
// metadata and edge sets.
func Equal(a, b *Graph) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, n := range a.Nodes() {
		m, ok := b.Find(n.Self.Path)
		if !ok || !n.Equal(m) {
			return false
		}
	}
	return true
}
