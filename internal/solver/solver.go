// Package solver orchestrates the core: for each diagnostic it enumerates
// candidate executions against the catalog, filters them to the stale ones
// through the registry, submits those to an executor, and awaits completion.
package solver

import (
	"iter"

	"github.com/climate-ref/refcore/internal/catalog"
	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/execset"
	"github.com/climate-ref/refcore/internal/requirement"
)

// Candidate is one potential execution: the dataset collection feeding it,
// the group key derived from its selector union, and the collection's
// content hash.
type Candidate struct {
	Collection execset.Collection
	Key        string
	Hash       string
}

// Solve enumerates a diagnostic's candidate executions lazily. Every data
// requirement is evaluated up front (an unknown facet aborts the whole
// diagnostic), but the cross product over the per-requirement groups is
// produced one element at a time, so callers can stop early and the full
// product is never materialized.
//
// A diagnostic with several requirements combines them by Cartesian product,
// one group drawn from each requirement per candidate. Whether some
// requirements are better treated as supplementary to others is an open
// modeling question; the product is what the requirement semantics define
// today.
func Solve(cat *catalog.Catalog, d diagnostic.Diagnostic) (iter.Seq[Candidate], error) {
	reqs := d.Requirements()

	perRequirement := make([][]requirement.CandidateGroup, 0, len(reqs))

	for _, req := range reqs {
		groups, err := requirement.Evaluate(cat, req)
		if err != nil {
			return nil, err
		}

		if len(groups) == 0 {
			// An empty factor empties the whole product.
			return func(func(Candidate) bool) {}, nil
		}

		perRequirement = append(perRequirement, groups)
	}

	if len(perRequirement) == 0 {
		return func(func(Candidate) bool) {}, nil
	}

	sourceTypes := make([]catalog.SourceType, len(reqs))
	for i, req := range reqs {
		sourceTypes[i] = req.SourceType
	}

	return func(yield func(Candidate) bool) {
		// Odometer over the per-requirement indices: the last requirement
		// varies fastest, matching the natural nesting of the product.
		indices := make([]int, len(perRequirement))

		for {
			if !yield(buildCandidate(sourceTypes, perRequirement, indices)) {
				return
			}

			pos := len(indices) - 1
			for pos >= 0 {
				indices[pos]++
				if indices[pos] < len(perRequirement[pos]) {
					break
				}

				indices[pos] = 0
				pos--
			}

			if pos < 0 {
				return
			}
		}
	}, nil
}

// buildCandidate assembles one product element: rows merged per source type,
// selectors unioned across requirements, hash computed over the result.
func buildCandidate(sourceTypes []catalog.SourceType, perRequirement [][]requirement.CandidateGroup, indices []int) Candidate {
	groups := make(map[catalog.SourceType][]catalog.Dataset, len(sourceTypes))
	selectors := make([]execset.Selector, 0, len(sourceTypes))

	for i, idx := range indices {
		chosen := perRequirement[i][idx]

		st := sourceTypes[i]
		groups[st] = append(groups[st], chosen.Rows...)
		selectors = append(selectors, selectorFromKey(chosen.Key))
	}

	selector := execset.Union(selectors...)
	collection := execset.NewCollection(selector, groups)

	return Candidate{
		Collection: collection,
		Key:        selector.Key(),
		Hash:       collection.Hash(),
	}
}

func selectorFromKey(k catalog.Key) execset.Selector {
	facets := make(map[string]string, len(k))
	for _, pair := range k {
		facets[pair.Facet] = pair.Value
	}

	return execset.NewSelector(facets)
}
