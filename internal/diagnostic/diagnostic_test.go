package diagnostic

import (
	"context"
	"errors"
	"testing"

	"github.com/climate-ref/refcore/internal/requirement"
)

type fakeDiagnostic struct {
	slug, providerSlug, version string
}

func (f fakeDiagnostic) Slug() string         { return f.slug }
func (f fakeDiagnostic) ProviderSlug() string { return f.providerSlug }
func (f fakeDiagnostic) Version() string      { return f.version }
func (f fakeDiagnostic) Facets() []string     { return []string{"variable"} }

func (f fakeDiagnostic) Requirements() []requirement.Requirement {
	return nil
}

func (f fakeDiagnostic) Run(_ context.Context, _ ExecutionDefinition) (Result, error) {
	return Result{}, nil
}

func TestRegistry_DiagnosticLookup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reg := NewRegistry()
	reg.Register(&Provider{
		Slug:    "esmvaltool",
		Version: "1.0.0",
		Diagnostics: []Diagnostic{
			fakeDiagnostic{slug: "global-mean-tas", providerSlug: "esmvaltool", version: "1.0.0"},
		},
	})

	d, err := reg.Diagnostic("esmvaltool", "global-mean-tas")
	if err != nil {
		t.Fatalf("Diagnostic() error = %v", err)
	}

	if d.Slug() != "global-mean-tas" {
		t.Errorf("Diagnostic().Slug() = %q, want global-mean-tas", d.Slug())
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reg := NewRegistry()

	_, err := reg.Diagnostic("bogus", "bogus")
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("Diagnostic() error = %v, want ErrProviderNotFound", err)
	}
}

func TestRegistry_UnknownDiagnostic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reg := NewRegistry()
	reg.Register(&Provider{Slug: "esmvaltool"})

	_, err := reg.Diagnostic("esmvaltool", "bogus")
	if !errors.Is(err, ErrDiagnosticNotFound) {
		t.Fatalf("Diagnostic() error = %v, want ErrDiagnosticNotFound", err)
	}
}

func TestTaskName(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if got := TaskName("esmvaltool", "global-mean-tas"); got != "esmvaltool.global-mean-tas" {
		t.Errorf("TaskName() = %q, want esmvaltool.global-mean-tas", got)
	}
}
