package syncexec

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/requirement"
)

type fakeDiagnostic struct {
	run func(ctx context.Context, def diagnostic.ExecutionDefinition) (diagnostic.Result, error)
}

func (d fakeDiagnostic) Slug() string                            { return "ecs" }
func (d fakeDiagnostic) ProviderSlug() string                    { return "testprov" }
func (d fakeDiagnostic) Version() string                         { return "1.0.0" }
func (d fakeDiagnostic) Facets() []string                        { return nil }
func (d fakeDiagnostic) Requirements() []requirement.Requirement { return nil }

func (d fakeDiagnostic) Run(ctx context.Context, def diagnostic.ExecutionDefinition) (diagnostic.Result, error) {
	return d.run(ctx, def)
}

func TestSubmit_RunsInline(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ran := false

	diags := diagnostic.NewRegistry()
	diags.Register(&diagnostic.Provider{
		Slug: "testprov",
		Diagnostics: []diagnostic.Diagnostic{fakeDiagnostic{
			run: func(context.Context, diagnostic.ExecutionDefinition) (diagnostic.Result, error) {
				ran = true
				return diagnostic.Result{Bundles: []string{"diagnostic.json"}}, nil
			},
		}},
	})

	var recorded error

	e := New(diags, nil, func(_ context.Context, _ executor.ExecutionHandle, _ diagnostic.Result, runErr error) {
		recorded = runErr
	}, slog.Default())

	def := diagnostic.ExecutionDefinition{
		ProviderSlug:   "testprov",
		DiagnosticSlug: "ecs",
		RootOutputDir:  t.TempDir(),
		OutputFragment: "testprov/ecs/k/0",
	}

	require.NoError(t, e.Submit(context.Background(), def, executor.ExecutionHandle{ExecutionID: uuid.New()}))
	require.True(t, ran, "submission must have completed before Submit returned")
	require.NoError(t, recorded)

	require.NoError(t, e.Join(context.Background(), time.Millisecond))
}

func TestSubmit_PanicBecomesFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	diags := diagnostic.NewRegistry()
	diags.Register(&diagnostic.Provider{
		Slug: "testprov",
		Diagnostics: []diagnostic.Diagnostic{fakeDiagnostic{
			run: func(context.Context, diagnostic.ExecutionDefinition) (diagnostic.Result, error) {
				panic("nil dereference")
			},
		}},
	})

	var recorded error

	e := New(diags, nil, func(_ context.Context, _ executor.ExecutionHandle, _ diagnostic.Result, runErr error) {
		recorded = runErr
	}, slog.Default())

	def := diagnostic.ExecutionDefinition{
		ProviderSlug:   "testprov",
		DiagnosticSlug: "ecs",
		RootOutputDir:  t.TempDir(),
		OutputFragment: "testprov/ecs/k/0",
	}

	require.NoError(t, e.Submit(context.Background(), def, executor.ExecutionHandle{ExecutionID: uuid.New()}))
	require.Error(t, recorded)
	require.ErrorContains(t, recorded, "panicked")
}

func TestSubmit_ErrorsIsNotRethrown(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	diags := diagnostic.NewRegistry()
	diags.Register(&diagnostic.Provider{
		Slug: "testprov",
		Diagnostics: []diagnostic.Diagnostic{fakeDiagnostic{
			run: func(context.Context, diagnostic.ExecutionDefinition) (diagnostic.Result, error) {
				return diagnostic.Result{}, errors.New("missing variable")
			},
		}},
	})

	var recorded error

	e := New(diags, nil, func(_ context.Context, _ executor.ExecutionHandle, _ diagnostic.Result, runErr error) {
		recorded = runErr
	}, slog.Default())

	def := diagnostic.ExecutionDefinition{
		ProviderSlug:   "testprov",
		DiagnosticSlug: "ecs",
		RootOutputDir:  t.TempDir(),
		OutputFragment: "testprov/ecs/k/0",
	}

	// A failing diagnostic is a failed outcome, not a Submit error.
	require.NoError(t, e.Submit(context.Background(), def, executor.ExecutionHandle{ExecutionID: uuid.New()}))
	require.Error(t, recorded)
}
