// Package requirement implements the Requirement Evaluator: applying a
// diagnostic's declarative data requirement (filters, group-by, constraints)
// against a catalog partition to produce candidate execution groups.
package requirement

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/climate-ref/refcore/internal/catalog"
)

// Sentinel errors, checked with errors.Is by callers.
var (
	// ErrUnknownFacet indicates a filter or group-by referenced a facet column
	// absent from every row in the partition.
	ErrUnknownFacet = errors.New("unknown facet")
)

type (
	// Requirement is one diagnostic's declarative data requirement.
	Requirement struct {
		// SourceType selects which catalog partition to draw from.
		SourceType catalog.SourceType

		// Filters are applied conjunctively, in order.
		Filters []catalog.FacetFilter

		// GroupBy is the tuple of facet names partitioning filtered rows.
		// Empty GroupBy yields a single group containing all rows.
		GroupBy []string

		// Constraints run in order against each candidate group.
		Constraints []Constraint
	}

	// CandidateGroup is the (selector, grouped rows) pair the evaluator
	// yields for groups that survive every constraint.
	CandidateGroup struct {
		Key  catalog.Key
		Rows []catalog.Dataset
	}

	// Constraint is either a group operation or a group validator, applied
	// in declaration order to every candidate group.
	Constraint interface {
		// Apply transforms or vets a group against the full catalog. It
		// returns the (possibly enlarged) group, whether the group survives,
		// and a reason when it does not.
		Apply(cat *catalog.Catalog, group catalog.Group) (catalog.Group, bool, string)
	}

	// GroupOperationFunc adapts a plain function into a group-transforming
	// Constraint: attach supplementary datasets like cell-area, or discard
	// the group with a reason if the operation's invariant can't be
	// satisfied.
	GroupOperationFunc func(cat *catalog.Catalog, group catalog.Group) (catalog.Group, bool, string)

	// GroupValidatorFunc adapts a plain predicate into a Constraint; the
	// group is discarded if the predicate is false.
	GroupValidatorFunc func(cat *catalog.Catalog, group catalog.Group) bool
)

// Apply implements Constraint.
func (f GroupOperationFunc) Apply(cat *catalog.Catalog, group catalog.Group) (catalog.Group, bool, string) {
	return f(cat, group)
}

// Apply implements Constraint.
func (f GroupValidatorFunc) Apply(cat *catalog.Catalog, group catalog.Group) (catalog.Group, bool, string) {
	if f(cat, group) {
		return group, true, ""
	}

	return group, false, "group validator rejected group"
}

// Evaluate applies req against cat:
//
//  1. Start with the full partition; absent/empty -> nothing.
//  2. Apply filters in order, failing fast on an unknown facet key.
//  3. Empty filtered set -> nothing.
//  4. Group by the group_by tuple.
//  5. Run constraints against each group, discarding on failure.
//  6. Return surviving groups.
func Evaluate(cat *catalog.Catalog, req Requirement) ([]CandidateGroup, error) {
	rows := cat.Partition(req.SourceType)
	if len(rows) == 0 {
		return nil, nil
	}

	if err := checkKnownFacets(rows, req); err != nil {
		return nil, err
	}

	for _, filter := range req.Filters {
		rows = filter.Apply(rows)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	groups := catalog.GroupBy(rows, req.GroupBy)

	candidates := make([]CandidateGroup, 0, len(groups))

	for _, group := range groups {
		survived := true
		reason := ""

		for _, constraint := range req.Constraints {
			var ok bool

			group, ok, reason = constraint.Apply(cat, group)
			if !ok {
				survived = false

				break
			}
		}

		if !survived {
			slog.Warn("constraint discarded group",
				slog.String("source_type", string(req.SourceType)),
				slog.String("group", group.Key.String()),
				slog.String("reason", reason),
			)

			continue
		}

		candidates = append(candidates, CandidateGroup{Key: group.Key, Rows: group.Rows})
	}

	return candidates, nil
}

// checkKnownFacets fails fast with ErrUnknownFacet if a filter or group_by
// references a column absent from every row in the partition, before any
// row is scanned.
func checkKnownFacets(rows []catalog.Dataset, req Requirement) error {
	known := make(map[string]struct{})

	for _, row := range rows {
		for k := range row.Facets {
			known[k] = struct{}{}
		}
	}

	for _, filter := range req.Filters {
		for _, key := range filter.Keys() {
			if _, ok := known[key]; !ok {
				return fmt.Errorf("%w: %q (source_type=%s)", ErrUnknownFacet, key, req.SourceType)
			}
		}
	}

	for _, facet := range req.GroupBy {
		if _, ok := known[facet]; !ok {
			return fmt.Errorf("%w: %q (source_type=%s)", ErrUnknownFacet, facet, req.SourceType)
		}
	}

	return nil
}
