// Package execset provides the Selector and Execution Dataset Collection
// types that give an execution group and an execution attempt their stable
// identities.
package execset

import "sort"

// Pair is one (facet_name, facet_value) component of a Selector.
type Pair struct {
	Facet string
	Value string
}

// Selector is the canonical identifier of an execution group: a sorted
// sequence of (facet_name, facet_value) pairs derived from a requirement's
// group_by. Hashable; equality is value-based.
type Selector []Pair

// NewSelector builds a Selector from a plain map, sorting by facet name so
// two selectors built from the same logical key compare equal regardless of
// map iteration order.
func NewSelector(facets map[string]string) Selector {
	sel := make(Selector, 0, len(facets))
	for k, v := range facets {
		sel = append(sel, Pair{Facet: k, Value: v})
	}

	sort.Slice(sel, func(i, j int) bool { return sel[i].Facet < sel[j].Facet })

	return sel
}

// Union merges selectors from multiple requirements into a single selector,
// used when a diagnostic has more than one data requirement and the solver
// must compute one selector for the whole Execution Dataset Collection.
// Later selectors win on facet collisions.
func Union(selectors ...Selector) Selector {
	merged := make(map[string]string)

	for _, sel := range selectors {
		for _, pair := range sel {
			merged[pair.Facet] = pair.Value
		}
	}

	return NewSelector(merged)
}

// Key renders the selector as the human-readable string stored as an
// Execution Group's key.
func (s Selector) Key() string {
	str := ""
	for i, pair := range s {
		if i > 0 {
			str += "/"
		}

		str += pair.Facet + "=" + pair.Value
	}

	return str
}

// Equal reports whether two selectors carry the same pairs in the same
// order (both are always constructed pre-sorted, so this is a plain
// element-wise compare).
func (s Selector) Equal(other Selector) bool {
	if len(s) != len(other) {
		return false
	}

	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}

	return true
}

// AsMap returns the selector as a facet-name -> facet-value map.
func (s Selector) AsMap() map[string]string {
	m := make(map[string]string, len(s))
	for _, pair := range s {
		m[pair.Facet] = pair.Value
	}

	return m
}
