// Package async implements the broker-backed Executor variant: task
// messages go out on a per-provider topic, workers in separate processes
// run them, and outcomes come back on a shared callback topic.
package async

import (
	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/diagnostic"
)

// DefaultCallbackTopic is the shared topic workers publish outcomes to.
const DefaultCallbackTopic = "refcore.callbacks"

// TaskMessage is the wire form of one submission: enough for a worker to
// resolve the diagnostic by (provider_slug, diagnostic_slug) and run it.
type TaskMessage struct {
	ExecutionID uuid.UUID                      `json:"execution_id"`
	Definition  diagnostic.ExecutionDefinition `json:"definition"`
}

// OutcomeMessage is the wire form of one completed execution, published by
// a worker onto the callback topic. Token authenticates the worker to the
// callback consumer.
type OutcomeMessage struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Successful  bool      `json:"successful"`
	Reason      string    `json:"reason,omitempty"`
	Bundles     []string  `json:"bundles,omitempty"`
	Plots       []string  `json:"plots,omitempty"`
	DataFiles   []string  `json:"data_files,omitempty"`
	Token       string    `json:"token"`
}
