// Package registry persists execution groups and their historical attempts,
// decides which groups are stale, and enforces at-most-one-in-flight
// semantics per group.
package registry

import (
	"context"
	"errors"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/validate"
)

var (
	// ErrGroupNotFound indicates a (diagnostic, key) lookup missed.
	ErrGroupNotFound = errors.New("execution group not found")

	// ErrExecutionNotFound indicates an execution id lookup missed.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDiagnosticNotRegistered indicates Reserve was called for a
	// diagnostic whose provider was never registered.
	ErrDiagnosticNotRegistered = errors.New("diagnostic not registered")

	// ErrOutcomeAlreadyRecorded indicates RecordOutcome was called twice for
	// the same execution; an execution is mutated exactly once to record its
	// outcome.
	ErrOutcomeAlreadyRecorded = errors.New("outcome already recorded for execution")
)

type (
	// ReserveRequest identifies the group to upsert and the candidate data
	// identity the staleness decision is made against.
	ReserveRequest struct {
		ProviderSlug   string
		DiagnosticSlug string
		Key            string
		DatasetHash    string

		// DryRun upserts the group and reports the decision without
		// creating an attempt row.
		DryRun bool
	}

	// Reservation is the result of one Reserve call: the upserted group,
	// whether it was newly created, and the new attempt when one was needed.
	Reservation struct {
		Group        Group
		GroupCreated bool

		// Attempt is nil when no new run is needed, when DryRun was set, or
		// when a previous attempt is still in flight.
		Attempt *Attempt

		// NeedsRun reports the staleness decision independently of whether
		// an attempt row was created (it is true on a dry run that would
		// have created one).
		NeedsRun bool

		// InFlight reports that the latest attempt has not recorded its
		// outcome yet, so no new attempt may be created for this group.
		InFlight bool
	}

	// Reader is the read-only half of the registry.
	Reader interface {
		// GetGroup fetches a group by its diagnostic identity and key.
		GetGroup(ctx context.Context, providerSlug, diagnosticSlug, key string) (*Group, error)

		// ListAttempts returns a group's attempts ordered by attempt index.
		ListAttempts(ctx context.Context, groupID string) ([]Attempt, error)

		// ShouldRun reports whether a new attempt is needed for the group
		// given the candidate dataset hash. Groups with no attempts, dirty
		// groups, and groups whose latest attempt ran against a different
		// hash all need a run.
		ShouldRun(ctx context.Context, providerSlug, diagnosticSlug, key, candidateHash string) (bool, error)
	}

	// Writer is the mutating half of the registry.
	Writer interface {
		// RegisterProvider upserts the provider and its diagnostics keyed by
		// slug. A version change is recorded in the version history but
		// never invalidates existing groups.
		RegisterProvider(ctx context.Context, p *diagnostic.Provider) error

		// Reserve atomically upserts the group, applies the staleness
		// decision, and (unless dry-run) creates the next attempt row. Two
		// concurrent Reserve calls for the same group never both create an
		// attempt.
		Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)

		// RecordOutcome sets the execution's outcome, moves artifacts from
		// the scratch area into the results area, and clears the group's
		// dirty flag when the outcome is success and the execution is the
		// group's latest attempt.
		RecordOutcome(ctx context.Context, executionID string, outcome Outcome) error

		// RecordMetricValues persists the validated metric bundle leaves of
		// a successful execution.
		RecordMetricValues(ctx context.Context, executionID string, bundle validate.MetricBundle) error
	}

	// Store combines both halves; PostgresRegistry and MemoryRegistry
	// implement it.
	Store interface {
		Reader
		Writer
	}
)

// Attempt status values, mirrored by the execution table's CHECK constraint.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// inFlight reports whether an attempt has not recorded its outcome yet.
func inFlight(status string) bool {
	return status == StatusPending || status == StatusRunning
}

// needsNewAttempt is the staleness decision: true when the group has no
// attempts, when the group is dirty, or when the latest attempt ran against
// a different dataset hash. The dirty flag is checked before the hash, so a
// manually-dirtied group reruns even if its hash still matches.
func needsNewAttempt(group Group, latest *Attempt, candidateHash string) bool {
	if latest == nil {
		return true
	}

	if group.Dirty {
		return true
	}

	return latest.DatasetHash != candidateHash
}
