package graph

import (
	"fmt"
	"sync"
)

// NodeKind is the node subtype. Package is used only for downstream filtering.
type NodeKind uint8

const (
	KindAsset NodeKind = iota
	KindFolder
	KindPackage
)

// String returns the kind name.
func (k NodeKind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindFolder:
		return "folder"
	case KindPackage:
		return "package"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is one vertex of the dependency graph.
//
// While a merge pass runs, edges accumulate in private buffers; Finalize
// turns them into the Dependencies and Dependents sets. Self.Path never
// changes after creation; the other metadata may be replaced by observe
// until the graph is finalized.
type Node struct {
	mu   sync.Mutex
	path string

	Self Identifier
	Kind NodeKind

	Dependencies IdentifierSet
	Dependents   IdentifierSet

	depBuf       []string
	dependentBuf []string
}

func newNode(id Identifier, kind NodeKind) *Node {
	return &Node{
		path:         id.Path,
		Self:         id,
		Kind:         kind,
		Dependencies: make(IdentifierSet),
		Dependents:   make(IdentifierSet),
	}
}

// NewNode creates a finalized node with the given sets, as read back from
// a persisted artifact.
func NewNode(id Identifier, kind NodeKind, deps, dependents IdentifierSet) *Node {
	n := newNode(id, kind)
	for _, d := range deps {
		n.Dependencies.Add(d)
	}
	for _, d := range dependents {
		n.Dependents.Add(d)
	}
	return n
}

// Path returns the node's path. It is safe to call during a merge.
func (n *Node) Path() string {
	return n.path
}

// AssetType returns the node's asset type.
func (n *Node) AssetType() string {
	return n.Self.AssetType
}

// observe records metadata seen from the node's own traversal entry. It
// overrides metadata guessed when the node was created as an edge target.
func (n *Node) observe(id Identifier, kind NodeKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Self.AssetType = id.AssetType
	n.Self.GUID = id.GUID
	n.Self.ContentHash = id.ContentHash
	n.Kind = kind
}

func (n *Node) appendDependency(path string) {
	n.mu.Lock()
	n.depBuf = append(n.depBuf, path)
	n.mu.Unlock()
}

func (n *Node) appendDependent(path string) {
	n.mu.Lock()
	n.dependentBuf = append(n.dependentBuf, path)
	n.mu.Unlock()
}

// Equal compares identity, kind and both edge sets.
func (n *Node) Equal(other *Node) bool {
	return n.Self == other.Self &&
		n.Kind == other.Kind &&
		n.Dependencies.Equal(other.Dependencies) &&
		n.Dependents.Equal(other.Dependents)
}
