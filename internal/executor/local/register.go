package local

import (
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/refconfig"
)

// Name is how executor.executor selects this implementation.
const Name = "local"

func init() {
	refconfig.RegisterExecutor(Name, func(cfg map[string]any, deps refconfig.ExecutorDeps) (executor.Executor, error) {
		return New(Config{
			Workers:    refconfig.IntOption(cfg, "workers", 0),
			QueueDepth: refconfig.IntOption(cfg, "queue_depth", 0),
		}, deps.Diagnostics, deps.CV, deps.Outcome, deps.Logger), nil
	})
}
