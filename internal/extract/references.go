package extract

import "sort"

// References maps a source path to the set of raw reference tokens found
// in it. Tokens are unresolved paths or GUID strings.
type References map[string]map[string]struct{}

// NewReferences creates an empty mapping.
func NewReferences() References {
	return make(References)
}

// Ensure makes sure source has an entry, possibly empty.
func (r References) Ensure(source string) map[string]struct{} {
	set, ok := r[source]
	if !ok {
		set = make(map[string]struct{})
		r[source] = set
	}
	return set
}

// Add records tokens for source.
func (r References) Add(source string, tokens ...string) {
	set := r.Ensure(source)
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
}

// Merge adds every entry of other.
func (r References) Merge(other References) {
	for source, tokens := range other {
		set := r.Ensure(source)
		for t := range tokens {
			set[t] = struct{}{}
		}
	}
}

// Len returns the number of sources.
func (r References) Len() int {
	return len(r)
}

// Tokens returns the tokens recorded for source in ascending order.
func (r References) Tokens(source string) []string {
	set := r[source]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Sources returns all source paths in ascending order.
func (r References) Sources() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
