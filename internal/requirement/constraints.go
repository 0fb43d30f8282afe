package requirement

import "github.com/climate-ref/refcore/internal/catalog"

// RequireFacets is a group validator requiring the group to cover every one
// of the required values for a facet: a diagnostic that compares experiments
// needs datasets for each of them, so a group missing any required value is
// discarded. Rows may carry other values for the facet beyond the required
// set.
func RequireFacets(facet string, required []string) Constraint {
	return GroupValidatorFunc(func(_ *catalog.Catalog, group catalog.Group) bool {
		present := make(map[string]struct{}, len(group.Rows))

		for _, row := range group.Rows {
			if value, ok := row.Facets.Value(facet); ok {
				present[value] = struct{}{}
			}
		}

		for _, want := range required {
			if _, covered := present[want]; !covered {
				return false
			}
		}

		return true
	})
}

// AttachFixedFields is a group operation that enlarges a group with
// supplementary datasets matching the group's own facet values on matchOn,
// e.g. attaching a cell-area dataset that shares the group's model/grid.
// The group is discarded if no supplementary row matches.
func AttachFixedFields(supplementarySourceType catalog.SourceType, matchOn []string) Constraint {
	return GroupOperationFunc(func(cat *catalog.Catalog, group catalog.Group) (catalog.Group, bool, string) {
		if len(group.Rows) == 0 {
			return group, false, "empty group has no facets to match supplementary datasets against"
		}

		anchor := group.Rows[0]

		constraint := make(map[string][]string, len(matchOn))
		for _, facet := range matchOn {
			value, ok := anchor.Facets.Value(facet)
			if !ok {
				return group, false, "anchor row missing match-on facet " + facet
			}

			constraint[facet] = []string{value}
		}

		supplementary := cat.Partition(supplementarySourceType)
		filter := catalog.NewFacetFilter(true, constraint)
		matched := filter.Apply(supplementary)

		if len(matched) == 0 {
			return group, false, "no supplementary dataset matched fixed fields"
		}

		enlarged := catalog.Group{
			Key:  group.Key,
			Rows: append(append([]catalog.Dataset{}, group.Rows...), matched...),
		}

		return enlarged, true, ""
	})
}
