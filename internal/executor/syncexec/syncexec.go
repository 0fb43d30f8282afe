// Package syncexec implements the synchronous Executor variant: every
// submission runs to completion inline, on the caller's goroutine. Useful
// for debugging diagnostics and for tests; Join is trivially a no-op since
// nothing is ever outstanding.
package syncexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/refconfig"
	"github.com/climate-ref/refcore/internal/validate"
)

// Name is how executor.executor selects this implementation.
const Name = "synchronous"

func init() {
	refconfig.RegisterExecutor(Name, func(_ map[string]any, deps refconfig.ExecutorDeps) (executor.Executor, error) {
		return New(deps.Diagnostics, deps.CV, deps.Outcome, deps.Logger), nil
	})
}

// Executor runs diagnostics inline. Completion order equals submission
// order by construction.
type Executor struct {
	diagnostics *diagnostic.Registry
	cv          *validate.ControlledVocabulary
	outcome     executor.OutcomeFunc
	logger      *slog.Logger
}

// New builds a synchronous executor. cv may be nil to skip result
// validation.
func New(diagnostics *diagnostic.Registry, cv *validate.ControlledVocabulary, outcome executor.OutcomeFunc, logger *slog.Logger) *Executor {
	return &Executor{diagnostics: diagnostics, cv: cv, outcome: outcome, logger: logger}
}

// Submit runs the definition immediately and records its outcome before
// returning.
func (e *Executor) Submit(ctx context.Context, def diagnostic.ExecutionDefinition, handle executor.ExecutionHandle) error {
	result, runErr := e.invoke(ctx, def)

	if runErr == nil && e.cv != nil && result.Metrics != nil {
		if err := e.cv.Validate(result.Metrics); err != nil {
			runErr = fmt.Errorf("result validation: %w", err)
		}
	}

	e.outcome(ctx, handle, result, runErr)

	return nil
}

// Join never has anything outstanding.
func (e *Executor) Join(context.Context, time.Duration) error { return nil }

func (e *Executor) invoke(ctx context.Context, def diagnostic.ExecutionDefinition) (result diagnostic.Result, runErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("diagnostic panicked: %v\n%s", rec, debug.Stack())
		}
	}()

	outputDir := filepath.Join(def.RootOutputDir, filepath.FromSlash(def.OutputFragment))

	if err := os.RemoveAll(outputDir); err != nil {
		return diagnostic.Result{}, fmt.Errorf("clearing output directory %s: %w", outputDir, err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return diagnostic.Result{}, fmt.Errorf("creating output directory %s: %w", outputDir, err)
	}

	d, err := e.diagnostics.Diagnostic(def.ProviderSlug, def.DiagnosticSlug)
	if err != nil {
		return diagnostic.Result{}, fmt.Errorf("resolving diagnostic: %w", err)
	}

	result, err = d.Run(ctx, def)
	if err != nil {
		return result, fmt.Errorf("diagnostic run: %w", err)
	}

	return result, nil
}
