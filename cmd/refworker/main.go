// Package main provides the refcore async worker process.
//
// A worker drains one provider's task topic: it resolves each task's
// diagnostic in its local provider registry, runs it, and publishes the
// outcome onto the shared callback topic for the solver's executor to
// record.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/climate-ref/refcore/internal/config"
	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor/async"
	"github.com/climate-ref/refcore/internal/refconfig"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "refworker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	configPath := flag.String("config", "", "path to the configuration file")
	providerSlug := flag.String("provider", "", "provider slug whose task topic this worker drains")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg, err := refconfig.Load(*configPath)
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if *providerSlug == "" {
		logger.Error("--provider is required")
		os.Exit(2)
	}

	diagnostics := diagnostic.NewRegistry()

	for _, pc := range cfg.DiagnosticProviders {
		p, err := refconfig.NewProvider(pc.Provider, pc.Config)
		if err != nil {
			logger.Error("configuration error", slog.String("error", err.Error()))
			os.Exit(2)
		}

		diagnostics.Register(p)
	}

	workerCfg := async.WorkerConfig{
		Brokers:       refconfig.StringListOption(cfg.Executor.Config, "brokers"),
		ProviderSlug:  *providerSlug,
		CallbackTopic: refconfig.StringOption(cfg.Executor.Config, "callback_topic", ""),
		WorkerToken: config.GetEnvStr("REF_EXECUTOR_WORKER_TOKEN",
			refconfig.StringOption(cfg.Executor.Config, "worker_token", "")),
	}

	worker, err := async.NewWorker(workerCfg, diagnostics, nil, logger)
	if err != nil {
		logger.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("provider", *providerSlug),
	)

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("worker stopped")
}
