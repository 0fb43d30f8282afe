package execset

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the collection's content-identity hash, not a secrecy primitive.
	"encoding/json"
	"fmt"
	"sort"

	"github.com/climate-ref/refcore/internal/catalog"
)

// Collection is the concrete input to one diagnostic run: a mapping from
// source-type to a group of Dataset rows plus its selector.
type Collection struct {
	// Selector is the union of every requirement's group-by selector.
	Selector Selector

	// groups holds the surviving dataset rows per source type.
	groups map[catalog.SourceType][]catalog.Dataset
}

// NewCollection builds a Collection from the per-requirement candidate
// groups the solver has already cross-producted.
func NewCollection(selector Selector, groups map[catalog.SourceType][]catalog.Dataset) Collection {
	return Collection{Selector: selector, groups: groups}
}

// Rows returns the dataset rows contributed by one source type.
func (c Collection) Rows(st catalog.SourceType) []catalog.Dataset {
	return c.groups[st]
}

// SourceTypes returns the source types present in the collection, sorted for
// deterministic hash input.
func (c Collection) SourceTypes() []catalog.SourceType {
	types := make([]catalog.SourceType, 0, len(c.groups))
	for st := range c.groups {
		types = append(types, st)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Hash computes the collection's stable content hash: SHA-1 over sorted
// instance_id lists across source-types. Two collections with
// the same underlying datasets always hash identically, independent of the
// order rows were discovered or groups were built.
func (c Collection) Hash() string {
	h := sha1.New() //nolint:gosec // see import comment

	for _, st := range c.SourceTypes() {
		rows := c.groups[st]

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.InstanceID
		}

		sort.Strings(ids)

		fmt.Fprintf(h, "%s:", st)
		for _, id := range ids {
			fmt.Fprintf(h, "%s,", id)
		}

		fmt.Fprint(h, ";")
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// collectionJSON is the wire shape of a Collection, used when an execution
// definition crosses process boundaries through the async broker.
type collectionJSON struct {
	Selector Selector                                 `json:"selector"`
	Groups   map[catalog.SourceType][]catalog.Dataset `json:"groups"`
}

// MarshalJSON implements json.Marshaler so the collection survives the trip
// to a worker process intact.
func (c Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(collectionJSON{Selector: c.Selector, Groups: c.groups})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var wire collectionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	c.Selector = wire.Selector
	c.groups = wire.Groups

	return nil
}
