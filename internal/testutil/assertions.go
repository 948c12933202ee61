package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asset-graph/internal/graph"
)

// AssertBidirectional checks that every dependency edge present in g has
// its reverse dependent edge and vice versa.
func AssertBidirectional(t *testing.T, g *graph.Graph) {
	t.Helper()
	for _, n := range g.Nodes() {
		for _, p := range n.Dependencies.Paths() {
			d, ok := g.Find(p)
			if !ok {
				continue // orphaned identifier
			}
			assert.True(t, d.Dependents.Contains(n.Self.Path), "%s -> %s has no reverse edge", n.Self.Path, p)
		}
		for _, p := range n.Dependents.Paths() {
			d, ok := g.Find(p)
			if !assert.True(t, ok, "dependent %s of %s is not a node", p, n.Self.Path) {
				continue
			}
			assert.True(t, d.Dependencies.Contains(n.Self.Path), "%s <- %s has no forward edge", n.Self.Path, p)
		}
	}
}

// AssertDependencies checks the exact dependency paths of the node at path.
func AssertDependencies(t *testing.T, g *graph.Graph, path string, want ...string) {
	t.Helper()
	n, ok := g.Find(path)
	if !assert.True(t, ok, "node %s not found", path) {
		return
	}
	if want == nil {
		want = []string{}
	}
	assert.ElementsMatch(t, want, n.Dependencies.Paths(), "dependencies of %s", path)
}

// AssertNode checks kind and asset type of the node at path.
func AssertNode(t *testing.T, g *graph.Graph, path string, kind graph.NodeKind, assetType string) {
	t.Helper()
	n, ok := g.Find(path)
	if !assert.True(t, ok, "node %s not found", path) {
		return
	}
	assert.Equal(t, kind, n.Kind, "kind of %s", path)
	assert.Equal(t, assetType, n.AssetType(), "asset type of %s", path)
}
