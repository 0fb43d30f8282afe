package catalog

import "testing"

func rows() []Dataset {
	return []Dataset{
		{SourceType: SourceTypeCMIP6, InstanceID: "b", Facets: Facets{"variable": "tas", "source": "modelA"}, Path: "/b.nc"},
		{SourceType: SourceTypeCMIP6, InstanceID: "a", Facets: Facets{"variable": "tas", "source": "modelA"}, Path: "/a.nc"},
		{SourceType: SourceTypeCMIP6, InstanceID: "c", Facets: Facets{"variable": "pr", "source": "modelB"}, Path: "/c.nc"},
	}
}

func TestSourceType_IsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		st   SourceType
		want bool
	}{
		{name: "cmip6", st: SourceTypeCMIP6, want: true},
		{name: "obs4mips", st: SourceTypeObs4MIPs, want: true},
		{name: "climatology", st: SourceTypeClimatology, want: true},
		{name: "unknown", st: SourceType("bogus"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCatalog_Partition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := New()
	c.Load(SourceTypeCMIP6, rows())

	if got := len(c.Partition(SourceTypeCMIP6)); got != 3 {
		t.Errorf("Partition() len = %d, want 3", got)
	}

	if got := c.Partition(SourceTypeObs4MIPs); got != nil {
		t.Errorf("Partition() on absent partition = %v, want nil", got)
	}
}

func TestFacetFilter_Apply(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		filter FacetFilter
		want   []string
	}{
		{
			name:   "keep matches",
			filter: NewFacetFilter(true, map[string][]string{"source": {"modelA"}}),
			want:   []string{"a", "b"},
		},
		{
			name:   "drop matches",
			filter: NewFacetFilter(false, map[string][]string{"source": {"modelA"}}),
			want:   []string{"c"},
		},
		{
			name:   "unknown facet never matches",
			filter: NewFacetFilter(true, map[string][]string{"grid": {"gn"}}),
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(rows())

			ids := make([]string, len(got))
			for i, row := range got {
				ids[i] = row.InstanceID
			}

			if len(ids) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", ids, tt.want)
			}

			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("Apply()[%d] = %q, want %q", i, ids[i], tt.want[i])
				}
			}
		})
	}
}

func TestGroupBy_EmptyGroupByYieldsSingleGroup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	groups := GroupBy(rows(), nil)
	if len(groups) != 1 {
		t.Fatalf("GroupBy(nil) len = %d, want 1", len(groups))
	}

	if len(groups[0].Key) != 0 {
		t.Errorf("GroupBy(nil) key = %v, want empty", groups[0].Key)
	}

	if len(groups[0].Rows) != 3 {
		t.Errorf("GroupBy(nil) rows = %d, want 3", len(groups[0].Rows))
	}

	// Rows within a group are sorted by instance id regardless of input order.
	if groups[0].Rows[0].InstanceID != "a" || groups[0].Rows[1].InstanceID != "b" {
		t.Errorf("GroupBy(nil) rows not sorted: %v", groups[0].Rows)
	}
}

func TestGroupBy_PartitionsByTuple(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	groups := GroupBy(rows(), []string{"source"})
	if len(groups) != 2 {
		t.Fatalf("GroupBy() len = %d, want 2", len(groups))
	}

	// First appearance order: modelA (from row "b") then modelB (from row "c").
	if groups[0].Key.String() != "source=modelA" {
		t.Errorf("GroupBy()[0].Key = %q, want source=modelA", groups[0].Key.String())
	}

	if groups[1].Key.String() != "source=modelB" {
		t.Errorf("GroupBy()[1].Key = %q, want source=modelB", groups[1].Key.String())
	}
}

func TestUniqueValues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	got := UniqueValues(rows(), "variable")
	want := []string{"tas", "pr"}

	if len(got) != len(want) {
		t.Fatalf("UniqueValues() = %v, want %v", got, want)
	}

	for i := range got {
		if got[i] != want[i] {
			t.Errorf("UniqueValues()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
