package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/climate-ref/refcore/internal/catalog"
	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/registry"
)

type (
	// Filters optionally restricts a solve to allowlisted provider and
	// diagnostic slugs. Empty lists allow everything.
	Filters struct {
		Providers   []string
		Diagnostics []string
	}

	// Options parameterizes one SolveRequired invocation.
	Options struct {
		// DryRun upserts groups and reports decisions without creating
		// attempts or submitting work.
		DryRun bool

		// Timeout bounds the final executor join.
		Timeout time.Duration

		// Filters restricts which providers/diagnostics solve.
		Filters Filters

		// ScratchRoot is the root output directory executions write under;
		// successful outcomes are moved into the results area by the
		// registry.
		ScratchRoot string
	}

	// Report summarizes one SolveRequired invocation.
	Report struct {
		// Considered counts candidate executions enumerated.
		Considered int

		// GroupsCreated counts execution groups seen for the first time.
		GroupsCreated int

		// Submitted counts attempts created and handed to the executor.
		Submitted int

		// Skipped counts candidates whose groups were already clean against
		// the candidate hash.
		Skipped int

		// InFlight counts candidates skipped because a previous attempt has
		// not recorded its outcome yet.
		InFlight int

		// Errors collects the per-diagnostic failures that did not stop the
		// solve; an unknown facet aborts one diagnostic, not the run.
		Errors []error
	}

	// Solver wires the catalog, registry, executor, and provider registry
	// together for SolveRequired.
	Solver struct {
		catalog     *catalog.Catalog
		registry    registry.Store
		exec        executor.Executor
		diagnostics *diagnostic.Registry
		logger      *slog.Logger
	}
)

// New builds a Solver. All dependencies are required; a nil dependency is a
// programming error and panics at construction time rather than failing
// somewhere mid-solve.
func New(cat *catalog.Catalog, reg registry.Store, exec executor.Executor, diagnostics *diagnostic.Registry, logger *slog.Logger) *Solver {
	if cat == nil {
		panic("solver: catalog is required")
	}

	if reg == nil {
		panic("solver: registry is required")
	}

	if exec == nil {
		panic("solver: executor is required")
	}

	if diagnostics == nil {
		panic("solver: diagnostic registry is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Solver{
		catalog:     cat,
		registry:    reg,
		exec:        exec,
		diagnostics: diagnostics,
		logger:      logger,
	}
}

// SolveRequired walks every active provider's diagnostics, reserves an
// attempt for each stale candidate group, submits the attempts, and joins
// the executor. The solver itself never blocks on per-execution work; Join
// is its only blocking call.
func (s *Solver) SolveRequired(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}

	providers := s.diagnostics.Providers()
	sort.Slice(providers, func(i, j int) bool { return providers[i].Slug < providers[j].Slug })

	for _, p := range providers {
		if !slugAllowed(opts.Filters.Providers, p.Slug) {
			continue
		}

		if err := s.registry.RegisterProvider(ctx, p); err != nil {
			return report, fmt.Errorf("registering provider %q: %w", p.Slug, err)
		}

		for _, d := range p.Diagnostics {
			if !slugAllowed(opts.Filters.Diagnostics, d.Slug()) {
				continue
			}

			if err := s.solveDiagnostic(ctx, d, opts, report); err != nil {
				// One diagnostic's failure never stops the others.
				report.Errors = append(report.Errors, err)

				s.logger.Warn("diagnostic solve failed",
					slog.String("provider", p.Slug),
					slog.String("diagnostic", d.Slug()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if report.Submitted > 0 {
		if err := s.exec.Join(ctx, opts.Timeout); err != nil {
			if errors.Is(err, executor.ErrJoinTimeout) {
				report.Errors = append(report.Errors, err)

				return report, err
			}

			return report, fmt.Errorf("joining executor: %w", err)
		}
	}

	return report, nil
}

func (s *Solver) solveDiagnostic(ctx context.Context, d diagnostic.Diagnostic, opts Options, report *Report) error {
	candidates, err := Solve(s.catalog, d)
	if err != nil {
		return fmt.Errorf("solving %s/%s: %w", d.ProviderSlug(), d.Slug(), err)
	}

	for candidate := range candidates {
		report.Considered++

		res, err := s.registry.Reserve(ctx, registry.ReserveRequest{
			ProviderSlug:   d.ProviderSlug(),
			DiagnosticSlug: d.Slug(),
			Key:            candidate.Key,
			DatasetHash:    candidate.Hash,
			DryRun:         opts.DryRun,
		})
		if err != nil {
			return fmt.Errorf("reserving %s/%s %q: %w", d.ProviderSlug(), d.Slug(), candidate.Key, err)
		}

		if res.GroupCreated {
			report.GroupsCreated++

			s.logger.Info("execution group created",
				slog.String("provider", d.ProviderSlug()),
				slog.String("diagnostic", d.Slug()),
				slog.String("key", candidate.Key),
			)
		}

		switch {
		case res.InFlight:
			report.InFlight++
		case !res.NeedsRun:
			report.Skipped++
		case res.Attempt == nil:
			// Dry run: the decision was made but nothing was created.
		default:
			def := diagnostic.ExecutionDefinition{
				Collection:     candidate.Collection,
				ProviderSlug:   d.ProviderSlug(),
				DiagnosticSlug: d.Slug(),
				RootOutputDir:  opts.ScratchRoot,
				OutputFragment: res.Attempt.OutputFragment,
			}

			handle, err := handleFor(res.Attempt)
			if err != nil {
				return err
			}

			if err := s.exec.Submit(ctx, def, handle); err != nil {
				return fmt.Errorf("submitting %s/%s %q: %w", d.ProviderSlug(), d.Slug(), candidate.Key, err)
			}

			report.Submitted++
		}
	}

	return nil
}

func slugAllowed(allowlist []string, slug string) bool {
	if len(allowlist) == 0 {
		return true
	}

	for _, allowed := range allowlist {
		if allowed == slug {
			return true
		}
	}

	return false
}
