// Package merge folds worker results into one dependency graph.
package merge

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/parallel"
	"github.com/asset-graph/pkg/telemetry"
	"github.com/asset-graph/pkg/utils"
)

// StatFunc reports file information for a raw source path.
type StatFunc func(path string) (fs.FileInfo, error)

// Options configures a Merger.
type Options struct {
	// Workers bounds how many worker results are merged at once.
	Workers int
	// ContentHash records an xxhash64 of every asset file.
	ContentHash bool
	Stat        StatFunc
	Logger      utils.Logger
}

// Merger builds a graph from raw references.
type Merger struct {
	resolver *resolve.Resolver
	filter   *filter.AssetFilter
	opts     Options
}

// New creates a Merger.
func New(r *resolve.Resolver, f *filter.AssetFilter, opts Options) *Merger {
	if f == nil {
		f = filter.Default()
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	return &Merger{resolver: r, filter: f, opts: opts}
}

// Merge processes every worker result and returns the finalized graph.
// Results are merged concurrently; the outcome does not depend on their
// order.
func (m *Merger) Merge(ctx context.Context, results []extract.References) (*graph.Graph, error) {
	ctx, span := telemetry.StartSpan(ctx, "merge.Merge")
	defer span.End()

	g := graph.New()
	cfg := parallel.DefaultPoolConfig().WithWorkers(m.opts.Workers)
	_, err := parallel.ForEach(ctx, results, cfg, func(ctx context.Context, refs extract.References) error {
		return m.mergeOne(ctx, g, refs)
	})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.Finalize()
	st := g.Stats()
	span.SetAttributes(
		attribute.Int("assetgraph.nodes", st.Nodes),
		attribute.Int("assetgraph.edges", st.Edges),
	)
	return g, nil
}

func (m *Merger) mergeOne(ctx context.Context, g *graph.Graph, refs extract.References) error {
	for source, tokens := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		selfPath := m.resolver.Canonicalize(source)
		if selfPath == "" {
			continue
		}

		info, err := m.opts.Stat(filepath.FromSlash(source))
		isFile := err == nil && info.Mode().IsRegular()

		var self *graph.Node
		if isFile {
			self = g.Observe(m.fileIdentity(ctx, selfPath, source), m.fileKind(selfPath))
		} else {
			self = g.Observe(graph.Identifier{
				Path:      selfPath,
				AssetType: graph.FolderType,
				GUID:      m.resolver.GUIDOf(ctx, selfPath),
			}, graph.KindFolder)
		}

		for token := range tokens {
			var dep *graph.Node
			if isFile {
				dep = m.assetDependency(ctx, g, token)
			} else {
				dep = m.childDependency(ctx, g, token)
			}
			if err := g.AddEdge(self, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// assetDependency resolves a token found in an asset file. Targets are
// created as assets or packages by extension.
func (m *Merger) assetDependency(ctx context.Context, g *graph.Graph, token string) *graph.Node {
	depPath := m.resolver.Resolve(ctx, token)
	if n, ok := g.Find(depPath); ok {
		return n
	}
	id := graph.Identifier{Path: depPath, AssetType: m.filter.TypeOf(depPath)}
	if index.IsGUID(token) {
		id.GUID = strings.ToLower(token)
	} else {
		id.GUID = m.resolver.GUIDOf(ctx, depPath)
	}
	n, _ := g.GetOrCreate(id, m.fileKind(depPath))
	return n
}

// childDependency handles a folder's child path; the child is stat'ed to
// tell files from folders.
func (m *Merger) childDependency(ctx context.Context, g *graph.Graph, raw string) *graph.Node {
	depPath := m.resolver.Canonicalize(raw)
	if n, ok := g.Find(depPath); ok {
		return n
	}
	id := graph.Identifier{Path: depPath, GUID: m.resolver.GUIDOf(ctx, depPath)}
	kind := graph.KindFolder
	if info, err := m.opts.Stat(filepath.FromSlash(raw)); err == nil && info.Mode().IsRegular() {
		id.AssetType = m.filter.TypeOf(depPath)
		kind = m.fileKind(depPath)
	} else {
		id.AssetType = graph.FolderType
	}
	n, _ := g.GetOrCreate(id, kind)
	return n
}

func (m *Merger) fileIdentity(ctx context.Context, canonical, raw string) graph.Identifier {
	id := graph.Identifier{
		Path:      canonical,
		AssetType: m.filter.TypeOf(canonical),
		GUID:      m.resolver.GUIDOf(ctx, canonical),
	}
	if m.opts.ContentHash {
		h, err := hashFile(filepath.FromSlash(raw))
		if err != nil {
			m.opts.Logger.Warn("hash %s: %v", raw, err)
		} else {
			id.ContentHash = h
		}
	}
	return id
}

func (m *Merger) fileKind(p string) graph.NodeKind {
	if m.filter.IsPackage(p) {
		return graph.KindPackage
	}
	return graph.KindAsset
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}
