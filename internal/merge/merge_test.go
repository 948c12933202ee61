package merge

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/pkg/filter"
)

const (
	texGUID     = "0123456789abcdef0123456789abcdef"
	missingGUID = "ffffffffffffffffffffffffffffffff"
	sharedGUID  = "aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb"
)

type project struct {
	root string
	idx  *index.MemoryIndex
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := filepath.ToSlash(t.TempDir())
	for _, f := range []string{
		"Assets/a.mat",
		"Assets/b.tex",
		"Assets/c.prefab",
		"Assets/Shared/shared.png",
		"Assets/Sub/d.mat",
	} {
		p := filepath.Join(filepath.FromSlash(root), filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0644))
	}
	return &project{
		root: root,
		idx: index.NewMemoryIndex(map[string]string{
			"Assets/b.tex":             texGUID,
			"Assets/Shared/shared.png": sharedGUID,
		}),
	}
}

func (p *project) abs(rel string) string {
	return p.root + "/" + rel
}

func (p *project) merger(opts Options) *Merger {
	return New(resolve.New(p.root, p.idx, nil), filter.Default(), opts)
}

// shards mirrors what two workers would report for the project.
func (p *project) shards() []extract.References {
	first := extract.NewReferences()
	first.Add(p.abs("Assets/a.mat"), texGUID, missingGUID)
	first.Add(p.abs("Assets/c.prefab"), sharedGUID, "ASSETS/A.MAT")
	first.Add(p.abs("Assets"), p.abs("Assets/a.mat"), p.abs("Assets/b.tex"), p.abs("Assets/c.prefab"), p.abs("Assets/Shared"), p.abs("Assets/Sub"))

	second := extract.NewReferences()
	second.Ensure(p.abs("Assets/b.tex"))
	second.Add(p.abs("Assets/Sub/d.mat"), sharedGUID)
	second.Ensure(p.abs("Assets/Shared/shared.png"))
	second.Add(p.abs("Assets/Shared"), p.abs("Assets/Shared/shared.png"))
	second.Add(p.abs("Assets/Sub"), p.abs("Assets/Sub/d.mat"))
	return []extract.References{first, second}
}

func requireBidirectional(t *testing.T, g *graph.Graph) {
	t.Helper()
	for _, n := range g.Nodes() {
		for p := range n.Dependencies {
			if d, ok := g.Find(p); ok {
				assert.True(t, d.Dependents.Contains(n.Path()), "%s -> %s", n.Path(), p)
			}
		}
		for p := range n.Dependents {
			if d, ok := g.Find(p); ok {
				assert.True(t, d.Dependencies.Contains(n.Path()), "%s <- %s", n.Path(), p)
			}
		}
	}
}

func TestMerge_ResolvesGUIDReference(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{}).Merge(context.Background(), p.shards())
	require.NoError(t, err)
	requireBidirectional(t, g)

	a, ok := g.Find("assets/a.mat")
	require.True(t, ok)
	assert.Equal(t, graph.KindAsset, a.Kind)
	assert.Equal(t, filter.TypeMaterial, a.AssetType())
	assert.True(t, a.Dependencies.Contains("assets/b.tex"))

	b, ok := g.Find("assets/b.tex")
	require.True(t, ok)
	assert.Equal(t, texGUID, b.Self.GUID)
	assert.True(t, b.Dependents.Contains("assets/a.mat"))
	assert.True(t, b.Dependents.Contains("assets"), "folder containment is an edge")

	count, err := g.ReferenceCount("assets/b.tex")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "folder dependents are not references")
}

func TestMerge_UnresolvedGUIDKeepsIdentity(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{}).Merge(context.Background(), p.shards())
	require.NoError(t, err)

	a, _ := g.Find("assets/a.mat")
	assert.True(t, a.Dependencies.Contains(missingGUID))

	ghost, ok := g.Find(missingGUID)
	require.True(t, ok)
	assert.Equal(t, missingGUID, ghost.Self.GUID)
	assert.True(t, ghost.Dependents.Contains("assets/a.mat"))
}

func TestMerge_SharedTargetAcrossShards(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{Workers: 2}).Merge(context.Background(), p.shards())
	require.NoError(t, err)

	shared, ok := g.Find("assets/shared/shared.png")
	require.True(t, ok)
	assert.Equal(t, []string{"assets/c.prefab", "assets/shared", "assets/sub/d.mat"}, shared.Dependents.Paths())

	count, err := g.ReferenceCount("assets/shared/shared.png")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMerge_Kinds(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{}).Merge(context.Background(), p.shards())
	require.NoError(t, err)

	tests := []struct {
		path string
		kind graph.NodeKind
		typ  string
	}{
		{"assets", graph.KindFolder, graph.FolderType},
		{"assets/sub", graph.KindFolder, graph.FolderType},
		{"assets/c.prefab", graph.KindPackage, filter.TypePrefab},
		{"assets/b.tex", graph.KindAsset, filter.Default().TypeOf("assets/b.tex")},
		{"assets/sub/d.mat", graph.KindAsset, filter.TypeMaterial},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			n, ok := g.Find(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.typ, n.AssetType())
		})
	}

	c, _ := g.Find("assets/c.prefab")
	assert.True(t, c.Dependencies.Contains("assets/a.mat"), "path tokens are canonicalized")

	// The identifier stored in a set is the finalized node's own.
	assets, _ := g.Find("assets")
	assert.Equal(t, graph.KindFolder, mustFind(t, g, "assets/sub").Kind)
	assert.Equal(t, graph.FolderType, assets.Dependencies["assets/sub"].AssetType)
	assert.Equal(t, texGUID, assets.Dependencies["assets/b.tex"].GUID)
}

func mustFind(t *testing.T, g *graph.Graph, p string) *graph.Node {
	t.Helper()
	n, ok := g.Find(p)
	require.True(t, ok, p)
	return n
}

func TestMerge_OrderIndependent(t *testing.T) {
	p := newProject(t)
	base, err := p.merger(Options{Workers: 1}).Merge(context.Background(), p.shards())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		// Re-split the same sources into a random number of shards.
		all := extract.NewReferences()
		for _, s := range p.shards() {
			all.Merge(s)
		}
		sources := all.Sources()
		rng.Shuffle(len(sources), func(a, b int) { sources[a], sources[b] = sources[b], sources[a] })

		n := 1 + rng.Intn(len(sources))
		results := make([]extract.References, n)
		for j := range results {
			results[j] = extract.NewReferences()
		}
		for j, s := range sources {
			results[j%n][s] = all[s]
		}

		g, err := p.merger(Options{Workers: 1 + rng.Intn(8)}).Merge(context.Background(), results)
		require.NoError(t, err)
		assert.True(t, graph.Equal(base, g), "iteration %d", i)
	}
}

func TestMerge_ContentHash(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{ContentHash: true}).Merge(context.Background(), p.shards())
	require.NoError(t, err)

	a := mustFind(t, g, "assets/a.mat")
	d := mustFind(t, g, "assets/sub/d.mat")
	assert.NotEmpty(t, a.Self.ContentHash)
	assert.NotEqual(t, a.Self.ContentHash, d.Self.ContentHash)
	assert.Empty(t, mustFind(t, g, "assets").Self.ContentHash)
}

func TestMerge_FrozenAfterMerge(t *testing.T) {
	p := newProject(t)
	g, err := p.merger(Options{}).Merge(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
	assert.True(t, g.Frozen())
}

func TestMerge_Cancelled(t *testing.T) {
	p := newProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.merger(Options{}).Merge(ctx, p.shards())
	assert.ErrorIs(t, err, context.Canceled)
}

// overlappingShards returns one shard owning count textures and two shards
// whose prefabs reference every texture by path.
func overlappingShards(t *testing.T, count int) (*project, []extract.References) {
	t.Helper()
	p := newProject(t)
	owner := extract.NewReferences()
	left := extract.NewReferences()
	right := extract.NewReferences()
	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		rel := fmt.Sprintf("Assets/Gen/img%04d.png", i)
		abs := filepath.Join(filepath.FromSlash(p.root), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(rel), 0644))
		owner.Ensure(p.abs(rel))
		tokens = append(tokens, rel)
	}
	for _, side := range []struct {
		refs extract.References
		rel  string
	}{{left, "Assets/left.prefab"}, {right, "Assets/right.prefab"}} {
		abs := filepath.Join(filepath.FromSlash(p.root), filepath.FromSlash(side.rel))
		require.NoError(t, os.WriteFile(abs, []byte(side.rel), 0644))
		side.refs.Add(p.abs(side.rel), tokens...)
	}
	return p, []extract.References{left, owner, right}
}

func TestMerge_OverlappingShardsConcurrent(t *testing.T) {
	const count = 2000
	p, shards := overlappingShards(t, count)
	opts := Options{ContentHash: true}

	opts.Workers = 1
	base, err := p.merger(opts).Merge(context.Background(), shards)
	require.NoError(t, err)
	require.Equal(t, count+2, base.Len())

	opts.Workers = 3
	for i := 0; i < 5; i++ {
		g, err := p.merger(opts).Merge(context.Background(), shards)
		require.NoError(t, err)
		assert.True(t, graph.Equal(base, g), "iteration %d", i)
	}

	img := mustFind(t, base, "assets/gen/img0007.png")
	assert.NotEmpty(t, img.Self.ContentHash, "owner metadata wins over the referenced placeholder")
	assert.Equal(t, []string{"assets/left.prefab", "assets/right.prefab"}, img.Dependents.Paths())
	requireBidirectional(t, base)
}
