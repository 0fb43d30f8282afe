// Package diagnostic holds the descriptors the core treats as opaque units:
// a Diagnostic consumes an ExecutionDefinition and produces a Result, but
// the core never inspects what happens inside Run.
package diagnostic

import (
	"context"
	"errors"

	"github.com/climate-ref/refcore/internal/execset"
	"github.com/climate-ref/refcore/internal/requirement"
	"github.com/climate-ref/refcore/internal/validate"
)

// Sentinel errors, checked with errors.Is by callers.
var (
	// ErrDiagnosticNotFound indicates a slug lookup against a Registry missed.
	ErrDiagnosticNotFound = errors.New("diagnostic not found")

	// ErrProviderNotFound indicates a provider slug lookup missed.
	ErrProviderNotFound = errors.New("provider not found")
)

type (
	// Provider owns a set of diagnostics and carries a version string that,
	// when changed, is recorded but never invalidates existing execution
	// groups.
	Provider struct {
		Slug        string
		Version     string
		Diagnostics []Diagnostic
	}

	// Diagnostic is opaque to the core. It must expose its slug, owning
	// provider slug, version, its data requirements, the dimension names its
	// metric values use, and an execution entry point that is pure with
	// respect to its ExecutionDefinition input and declared output
	// directory.
	Diagnostic interface {
		Slug() string
		ProviderSlug() string
		Version() string

		// Requirements declares the data this diagnostic needs, evaluated
		// against the catalog by the Requirement Evaluator.
		Requirements() []requirement.Requirement

		// Facets are the CV dimension names this diagnostic's metric values
		// are expected to use.
		Facets() []string

		// Run executes the diagnostic against def. Implementations live
		// outside this core.
		Run(ctx context.Context, def ExecutionDefinition) (Result, error)
	}

	// ExecutionDefinition is the dataset collection, the diagnostic identity,
	// the root output directory, and a per-execution subdirectory fragment.
	// It is pure data so cross-process executors can marshal it.
	ExecutionDefinition struct {
		Collection     execset.Collection
		ProviderSlug   string
		DiagnosticSlug string
		RootOutputDir  string
		OutputFragment string
	}

	// Result is what a diagnostic's Run returns on success: the bundle
	// filenames, metric-value rows, and output artifacts it produced. All
	// paths are relative to the definition's output directory. Metrics is
	// the in-memory metric bundle the dispatcher validates against the
	// controlled vocabulary before the outcome is recorded.
	Result struct {
		Bundles   []string
		Plots     []string
		DataFiles []string
		Metrics   validate.MetricBundle
	}
)

// OutputDirectory joins the root output directory and this definition's
// fragment, the concrete directory a Local worker creates/clears before
// invoking Run.
func (d ExecutionDefinition) OutputDirectory() string {
	return d.RootOutputDir + "/" + d.OutputFragment
}

// Registry resolves providers and diagnostics by slug. Providers register
// implementations at startup; cross-process executors look implementations
// up by (provider_slug, diagnostic_slug) inside the worker.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry returns an empty diagnostic Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register adds or replaces a provider's entry, keyed by slug.
func (r *Registry) Register(p *Provider) {
	r.providers[p.Slug] = p
}

// Provider looks up a provider by slug.
func (r *Registry) Provider(slug string) (*Provider, error) {
	p, ok := r.providers[slug]
	if !ok {
		return nil, ErrProviderNotFound
	}

	return p, nil
}

// Providers returns every registered provider, for enumeration by the solver.
func (r *Registry) Providers() []*Provider {
	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}

	return out
}

// Diagnostic resolves a (provider_slug, diagnostic_slug) pair -- the lookup
// an async worker performs after reading a task message off its topic.
func (r *Registry) Diagnostic(providerSlug, diagnosticSlug string) (Diagnostic, error) {
	p, err := r.Provider(providerSlug)
	if err != nil {
		return nil, err
	}

	for _, d := range p.Diagnostics {
		if d.Slug() == diagnosticSlug {
			return d, nil
		}
	}

	return nil, ErrDiagnosticNotFound
}

// TaskName returns the provider/diagnostic task identity used in logs and
// broker message metadata.
func TaskName(providerSlug, diagnosticSlug string) string {
	return providerSlug + "." + diagnosticSlug
}
