package graph

import "sort"

// FolderType is the asset type recorded for folder identifiers.
const FolderType = "Folder"

// Identifier names one asset or folder. Equality and hashing use Path only;
// the other fields are metadata.
type Identifier struct {
	Path        string
	AssetType   string
	GUID        string
	ContentHash string
}

// Key returns the identity key of the identifier.
func (id Identifier) Key() string {
	return id.Path
}

// IsFolder reports whether the identifier names a folder.
func (id Identifier) IsFolder() bool {
	return id.AssetType == FolderType
}

// IdentifierSet is a set of identifiers keyed by path.
type IdentifierSet map[string]Identifier

// NewIdentifierSet creates a set holding ids.
func NewIdentifierSet(ids ...Identifier) IdentifierSet {
	s := make(IdentifierSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id, replacing the metadata of an entry with the same path.
func (s IdentifierSet) Add(id Identifier) {
	s[id.Key()] = id
}

// Contains reports whether a member has the given path.
func (s IdentifierSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

// Remove deletes the member with the given path.
func (s IdentifierSet) Remove(path string) {
	delete(s, path)
}

// Len returns the number of members.
func (s IdentifierSet) Len() int {
	return len(s)
}

// Paths returns member paths in ascending order.
func (s IdentifierSet) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Sorted returns members ordered by path.
func (s IdentifierSet) Sorted() []Identifier {
	out := make([]Identifier, 0, len(s))
	for _, p := range s.Paths() {
		out = append(out, s[p])
	}
	return out
}

// Equal reports whether both sets hold the same identifiers, metadata included.
func (s IdentifierSet) Equal(other IdentifierSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}
