package catalog

import "sort"

// Catalog is a mapping from source-type to an ordered sequence of Dataset
// rows. It is read-only within a solver invocation; mutation happens only
// through Load, which is called once per catalog snapshot by its owner
// (dataset ingestion, outside this package's scope).
type Catalog struct {
	partitions map[SourceType][]Dataset
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{partitions: make(map[SourceType][]Dataset)}
}

// Load replaces the rows for a given source type wholesale. Intended for
// one-shot population by the catalog's owner before a solve begins.
func (c *Catalog) Load(st SourceType, rows []Dataset) {
	c.partitions[st] = rows
}

// Partition returns the rows loaded for a source type, or nil if the source
// type was never loaded. Callers must not mutate the returned slice.
func (c *Catalog) Partition(st SourceType) []Dataset {
	return c.partitions[st]
}

// FacetFilter is `{ facets: map<string, set<string>>, keep: bool }`: a row
// matches iff for every key, the row's value for that key is in the set.
// keep=true retains matches, keep=false drops them.
type FacetFilter struct {
	Facets map[string]map[string]struct{}
	Keep   bool
}

// NewFacetFilter builds a FacetFilter from plain string-slice values, the
// shape config/YAML decoding naturally produces.
func NewFacetFilter(keep bool, facets map[string][]string) FacetFilter {
	sets := make(map[string]map[string]struct{}, len(facets))

	for key, values := range facets {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}

		sets[key] = set
	}

	return FacetFilter{Facets: sets, Keep: keep}
}

// Matches reports whether row satisfies every facet constraint in the filter.
func (f FacetFilter) Matches(row Dataset) bool {
	for key, set := range f.Facets {
		value, ok := row.Facets.Value(key)
		if !ok {
			return false
		}

		if _, inSet := set[value]; !inSet {
			return false
		}
	}

	return true
}

// Keys returns the facet names the filter constrains, used by the evaluator
// to fail fast with ErrUnknownFacet before ever scanning rows.
func (f FacetFilter) Keys() []string {
	keys := make([]string, 0, len(f.Facets))
	for k := range f.Facets {
		keys = append(keys, k)
	}

	return keys
}

// Apply filters rows against f, retaining matches if Keep is true and
// dropping matches otherwise. Duplicate rows are preserved.
func (f FacetFilter) Apply(rows []Dataset) []Dataset {
	out := make([]Dataset, 0, len(rows))

	for _, row := range rows {
		matched := f.Matches(row)
		if matched == f.Keep {
			out = append(out, row)
		}
	}

	return out
}

// GroupBy partitions rows by the exact tuple of groupBy facet names,
// preserving the order of first appearance of each distinct key tuple. An
// empty groupBy yields a single group containing all rows with an empty
// selector.
func GroupBy(rows []Dataset, groupBy []string) []Group {
	if len(groupBy) == 0 {
		return []Group{{Key: Key{}, Rows: sortRows(rows)}}
	}

	order := make([]string, 0)
	buckets := make(map[string][]Dataset)
	keys := make(map[string]Key)

	for _, row := range rows {
		tuple := make([]KeyPair, 0, len(groupBy))
		for _, facet := range groupBy {
			value := row.Facets[facet]
			tuple = append(tuple, KeyPair{Facet: facet, Value: value})
		}

		// Selectors sort their (facet_name, facet_value) pairs regardless
		// of the requirement's group_by ordering.
		sort.Slice(tuple, func(i, j int) bool { return tuple[i].Facet < tuple[j].Facet })

		k := Key(tuple)
		id := k.String()

		if _, seen := buckets[id]; !seen {
			order = append(order, id)
			keys[id] = k
		}

		buckets[id] = append(buckets[id], row)
	}

	groups := make([]Group, 0, len(order))
	for _, id := range order {
		groups = append(groups, Group{Key: keys[id], Rows: sortRows(buckets[id])})
	}

	return groups
}

// UniqueValues enumerates the distinct values a facet takes across rows, in
// order of first appearance.
func UniqueValues(rows []Dataset, facet string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)

	for _, row := range rows {
		v, ok := row.Facets.Value(facet)
		if !ok {
			continue
		}

		if _, dup := seen[v]; dup {
			continue
		}

		seen[v] = struct{}{}
		values = append(values, v)
	}

	return values
}

// Group is a (selector key, grouped rows) pair produced by GroupBy.
type Group struct {
	Key  Key
	Rows []Dataset
}

// KeyPair is one (facet_name, facet_value) pair of a group-by key.
type KeyPair struct {
	Facet string
	Value string
}

// Key is the sorted sequence of (facet_name, facet_value) pairs identifying
// a group-by bucket. It is hashable via String and compares by value.
type Key []KeyPair

// String renders the key deterministically for use as a map key and for the
// execution group's human-readable key string.
func (k Key) String() string {
	s := ""
	for i, pair := range k {
		if i > 0 {
			s += "/"
		}

		s += pair.Facet + "=" + pair.Value
	}

	return s
}
