// Package local implements the in-process Executor variant: a fixed-size
// pool of workers draining a FIFO queue, with a timeout-aware Join.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/validate"
)

// ErrExecutorClosed is returned by Submit after Shutdown has been called.
var ErrExecutorClosed = errors.New("local executor is shut down")

const defaultQueueDepth = 256

// Config sizes the worker pool. Zero values fall back to defaults.
type Config struct {
	// Workers is the pool size; defaults to the host core count.
	Workers int

	// QueueDepth bounds the FIFO work queue; Submit blocks once the queue
	// is full. Defaults to defaultQueueDepth.
	QueueDepth int
}

type job struct {
	def    diagnostic.ExecutionDefinition
	handle executor.ExecutionHandle
	done   chan struct{}
}

// Executor runs diagnostics on a fixed-size pool of goroutines. Submission
// order is preserved through the queue; completion order is not. Join
// honors its timeout but never cancels in-flight work -- a worker that is
// still running when Join times out finishes and records its outcome
// normally.
type Executor struct {
	diagnostics *diagnostic.Registry
	cv          *validate.ControlledVocabulary
	outcome     executor.OutcomeFunc
	logger      *slog.Logger

	jobs    chan job
	pending chan chan struct{}
	closed  chan struct{}
}

// New starts the worker pool immediately. The diagnostics registry resolves
// (provider_slug, diagnostic_slug) to an implementation; cv may be nil to
// skip result validation; outcome is invoked once per submission from the
// worker that ran it.
func New(cfg Config, diagnostics *diagnostic.Registry, cv *validate.ControlledVocabulary, outcome executor.OutcomeFunc, logger *slog.Logger) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	e := &Executor{
		diagnostics: diagnostics,
		cv:          cv,
		outcome:     outcome,
		logger:      logger,
		jobs:        make(chan job, depth),
		pending:     make(chan chan struct{}, depth),
		closed:      make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		go e.worker()
	}

	return e
}

// Submit places work on the queue and remembers its future for Join. It
// blocks only when the queue is full.
func (e *Executor) Submit(ctx context.Context, def diagnostic.ExecutionDefinition, handle executor.ExecutionHandle) error {
	select {
	case <-e.closed:
		return ErrExecutorClosed
	default:
	}

	j := job{def: def, handle: handle, done: make(chan struct{})}

	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.pending <- j.done

	return nil
}

// Join blocks until every outstanding submission has produced an outcome or
// timeout elapses, whichever comes first. On timeout it returns
// executor.ErrJoinTimeout; the unfinished futures stay queued for a later
// Join and the workers keep running.
func (e *Executor) Join(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case done := <-e.pending:
			select {
			case <-done:
			case <-deadline.C:
				// Put the future back so the next Join still tracks it.
				e.pending <- done

				return executor.ErrJoinTimeout
			case <-ctx.Done():
				e.pending <- done

				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

// Shutdown stops the workers after the queue drains. Submit fails
// afterwards. Not safe to call concurrently with Submit.
func (e *Executor) Shutdown() {
	close(e.closed)
	close(e.jobs)
}

func (e *Executor) worker() {
	for j := range e.jobs {
		e.run(j)
		close(j.done)
	}
}

// run executes one job: prepare the output directory, redirect the run log,
// invoke the diagnostic, validate the metric bundle, and hand the outcome to
// the dispatcher callback. A panicking diagnostic is captured as a failed
// outcome rather than crashing the pool.
func (e *Executor) run(j job) {
	ctx := context.Background()

	result, runErr := e.invoke(ctx, j.def)

	if runErr == nil && e.cv != nil && result.Metrics != nil {
		if err := e.cv.Validate(result.Metrics); err != nil {
			runErr = fmt.Errorf("result validation: %w", err)
		}
	}

	if runErr != nil {
		e.logger.Warn("execution failed",
			slog.String("diagnostic", diagnostic.TaskName(j.def.ProviderSlug, j.def.DiagnosticSlug)),
			slog.String("execution_id", j.handle.ExecutionID.String()),
			slog.String("error", runErr.Error()),
		)
	}

	e.outcome(ctx, j.handle, result, runErr)
}

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

	logFile, err := os.Create(filepath.Join(outputDir, "out.log")) //nolint:gosec // path derived from the executor's own output root
	if err != nil {
		return diagnostic.Result{}, fmt.Errorf("creating execution log: %w", err)
	}
	defer logFile.Close()

	runLogger := slog.New(slog.NewJSONHandler(logFile, nil))
	runLogger.Info("execution started",
		slog.String("provider", def.ProviderSlug),
		slog.String("diagnostic", def.DiagnosticSlug),
	)

	d, err := e.diagnostics.Diagnostic(def.ProviderSlug, def.DiagnosticSlug)
	if err != nil {
		return diagnostic.Result{}, fmt.Errorf("resolving diagnostic: %w", err)
	}

	result, err = d.Run(ctx, def)
	if err != nil {
		runLogger.Error("execution failed", slog.String("error", err.Error()))

		return result, fmt.Errorf("diagnostic run: %w", err)
	}

	runLogger.Info("execution finished")

	return result, nil
}
