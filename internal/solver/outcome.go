package solver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/registry"
)

// handleFor converts a reserved attempt into the opaque token the executor
// carries alongside the submission.
func handleFor(a *registry.Attempt) (executor.ExecutionHandle, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return executor.ExecutionHandle{}, fmt.Errorf("attempt id %q is not a uuid: %w", a.ID, err)
	}

	return executor.ExecutionHandle{ExecutionID: id}, nil
}

// NewOutcomeRecorder adapts the registry into the callback executors invoke
// when a submission completes: a run error becomes a failed outcome (the
// group stays dirty and the next solve retries it), success records the
// produced artifacts and metric values.
func NewOutcomeRecorder(store registry.Store, logger *slog.Logger) executor.OutcomeFunc {
	return func(ctx context.Context, handle executor.ExecutionHandle, result diagnostic.Result, runErr error) {
		executionID := handle.ExecutionID.String()

		var outcome registry.Outcome
		if runErr != nil {
			outcome = registry.Failure(runErr.Error())
		} else {
			outcome = registry.Success(result.Bundles)
		}

		if err := store.RecordOutcome(ctx, executionID, outcome); err != nil {
			logger.Error("recording outcome failed",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()),
			)

			return
		}

		if runErr == nil && result.Metrics != nil {
			if err := store.RecordMetricValues(ctx, executionID, result.Metrics); err != nil {
				logger.Error("recording metric values failed",
					slog.String("execution_id", executionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
