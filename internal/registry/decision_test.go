package registry

import "testing"

// TestNeedsNewAttempt verifies the staleness decision table.
func TestNeedsNewAttempt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name          string
		dirty         bool
		latest        *Attempt
		candidateHash string
		want          bool
	}{
		{
			name:          "no attempts always runs",
			dirty:         false,
			latest:        nil,
			candidateHash: "abc",
			want:          true,
		},
		{
			name:          "dirty group runs even when hash matches",
			dirty:         true,
			latest:        &Attempt{Status: StatusSuccess, DatasetHash: "abc"},
			candidateHash: "abc",
			want:          true,
		},
		{
			name:          "hash mismatch runs",
			dirty:         false,
			latest:        &Attempt{Status: StatusSuccess, DatasetHash: "old"},
			candidateHash: "new",
			want:          true,
		},
		{
			name:          "clean group with matching hash skips",
			dirty:         false,
			latest:        &Attempt{Status: StatusSuccess, DatasetHash: "abc"},
			candidateHash: "abc",
			want:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := Group{Dirty: tt.dirty}

			if got := needsNewAttempt(group, tt.latest, tt.candidateHash); got != tt.want {
				t.Errorf("needsNewAttempt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutputFragment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	got := OutputFragment("esmvaltool", "ecs", "experiment_id=historical", 2)
	want := "esmvaltool/ecs/experiment_id=historical/2"

	if got != want {
		t.Errorf("OutputFragment() = %q, want %q", got, want)
	}
}
