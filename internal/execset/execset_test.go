package execset

import (
	"testing"

	"github.com/climate-ref/refcore/internal/catalog"
)

func TestSelector_KeyIsOrderIndependent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := NewSelector(map[string]string{"source": "modelA", "variable": "tas"})
	b := NewSelector(map[string]string{"variable": "tas", "source": "modelA"})

	if !a.Equal(b) {
		t.Fatalf("selectors built from same map in different order are not equal: %v vs %v", a, b)
	}

	if a.Key() != "source=modelA/variable=tas" {
		t.Errorf("Key() = %q, want sorted facet order", a.Key())
	}
}

func TestUnion_LaterSelectorWinsOnCollision(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := NewSelector(map[string]string{"variable": "tas"})
	b := NewSelector(map[string]string{"variable": "pr"})

	got := Union(a, b)
	if got.Key() != "variable=pr" {
		t.Errorf("Union() = %q, want variable=pr (later wins)", got.Key())
	}
}

func TestCollection_HashStableAcrossRowOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sel := NewSelector(map[string]string{"source": "modelA"})

	c1 := NewCollection(sel, map[catalog.SourceType][]catalog.Dataset{
		catalog.SourceTypeCMIP6: {
			{InstanceID: "b"},
			{InstanceID: "a"},
		},
	})

	c2 := NewCollection(sel, map[catalog.SourceType][]catalog.Dataset{
		catalog.SourceTypeCMIP6: {
			{InstanceID: "a"},
			{InstanceID: "b"},
		},
	})

	if c1.Hash() != c2.Hash() {
		t.Errorf("Hash() not stable across row order: %s vs %s", c1.Hash(), c2.Hash())
	}

	if len(c1.Hash()) != 40 {
		t.Errorf("Hash() length = %d, want 40 (SHA-1 hex)", len(c1.Hash()))
	}
}

func TestCollection_HashDiffersOnDifferentDatasets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sel := NewSelector(map[string]string{"source": "modelA"})

	c1 := NewCollection(sel, map[catalog.SourceType][]catalog.Dataset{
		catalog.SourceTypeCMIP6: {{InstanceID: "a"}},
	})

	c2 := NewCollection(sel, map[catalog.SourceType][]catalog.Dataset{
		catalog.SourceTypeCMIP6: {{InstanceID: "a"}, {InstanceID: "b"}},
	})

	if c1.Hash() == c2.Hash() {
		t.Errorf("Hash() collided for differing dataset sets")
	}
}
