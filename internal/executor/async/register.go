package async

import (
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/refconfig"
)

// Name is how executor.executor selects this implementation.
const Name = "async"

func init() {
	refconfig.RegisterExecutor(Name, func(cfg map[string]any, deps refconfig.ExecutorDeps) (executor.Executor, error) {
		return New(Config{
			Brokers:         refconfig.StringListOption(cfg, "brokers"),
			CallbackTopic:   refconfig.StringOption(cfg, "callback_topic", ""),
			ConsumerGroup:   refconfig.StringOption(cfg, "consumer_group", ""),
			RefreshInterval: refconfig.DurationOption(cfg, "refresh_interval", 0),
			MaxPollRetries:  refconfig.IntOption(cfg, "max_poll_retries", 0),
			WorkerToken:     refconfig.StringOption(cfg, "worker_token", ""),
		}, deps.Outcome, deps.Logger)
	})
}
