package registry

import "time"

// OutcomeKind discriminates the tagged Outcome struct. Go has no enums with
// payloads, so an explicit Kind field plus payload fields stands in for a
// Success{bundles}/Failure{reason} sum type.
type OutcomeKind string

const (
	// OutcomeSuccess indicates the execution produced a valid result bundle.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeFailure indicates the execution raised, timed out, or failed
	// result validation.
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the result of one execution attempt: Success carries the
// bundle filenames it produced, Failure carries a human-readable reason.
type Outcome struct {
	Kind    OutcomeKind
	Bundles []string
	Reason  string
}

// Success builds a successful Outcome.
func Success(bundles []string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Bundles: bundles}
}

// Failure builds a failed Outcome.
func Failure(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// Group is the persistent identity of "this diagnostic applied to this
// selector".
type Group struct {
	ID           string
	DiagnosticID string
	Key          string
	Dirty        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Attempt is one run of a Group, with its own artifacts and outcome.
type Attempt struct {
	ID             string
	GroupID        string
	AttemptIndex   int
	DatasetHash    string
	OutputFragment string
	Status         string
	Reason         string
	StartedAt      time.Time
	FinishedAt     *time.Time
}
