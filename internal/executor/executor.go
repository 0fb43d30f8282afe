// Package executor defines the polymorphic capability the Solver submits
// diagnostic executions through -- Local (in-process worker pool) and Async
// (external message broker) variants live in its subpackages.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/diagnostic"
)

// ErrJoinTimeout is returned by Join when the deadline elapses before every
// outstanding submission has produced an outcome. In-flight work is not
// cancelled by a timed-out Join.
var ErrJoinTimeout = errors.New("executor: join timed out waiting for outstanding executions")

// ExecutionHandle is the opaque token carried alongside a submission, used
// to correlate a later outcome back to its Execution row.
type ExecutionHandle struct {
	ExecutionID uuid.UUID
}

// Executor is the abstract contract: submit, join. Cancellation is not
// supported in v1 beyond abandoning on worker crash, so no Cancel method is
// added speculatively; callers wanting hard cancellation tear the executor
// down.
type Executor interface {
	// Submit accepts an Execution Definition and returns immediately; the
	// handle is later passed to the Outcome callback that calls
	// registry.RecordOutcome.
	Submit(ctx context.Context, def diagnostic.ExecutionDefinition, handle ExecutionHandle) error

	// Join blocks until every outstanding submission has produced an
	// outcome, or timeout elapses. On timeout it returns ErrJoinTimeout;
	// outstanding work keeps running regardless.
	Join(ctx context.Context, timeout time.Duration) error
}

// OutcomeFunc is called by an executor when a submitted execution completes,
// successfully or not. Executors are constructed with one OutcomeFunc that
// they wire to registry.RecordOutcome.
type OutcomeFunc func(ctx context.Context, handle ExecutionHandle, result diagnostic.Result, runErr error)
