// Package main provides the refcore diagnostic evaluation CLI.
//
// The solve subcommand enumerates every required diagnostic execution
// against the configured catalog, runs the stale ones through the configured
// executor, and records outcomes so reruns stay incremental.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/climate-ref/refcore/internal/diagnostic"
	_ "github.com/climate-ref/refcore/internal/executor/async" // registers the async executor factory
	"github.com/climate-ref/refcore/internal/executor/local"
	_ "github.com/climate-ref/refcore/internal/executor/syncexec" // registers the synchronous executor factory
	"github.com/climate-ref/refcore/internal/refconfig"
	"github.com/climate-ref/refcore/internal/registry"
	"github.com/climate-ref/refcore/internal/solver"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "refcore"
)

// Exit codes: 0 success, 1 solve/executor error, 2 configuration error.
const (
	exitOK = iota
	exitSolveError
	exitConfigError
)

const defaultSolveTimeout = 3600

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprintf("%v", []string(*s)) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		return exitOK
	}

	if flag.NArg() < 1 || flag.Arg(0) != "solve" {
		log.Printf("usage: %s solve [--config FILE] [--dry-run] [--timeout SEC] [--provider SLUG]... [--diagnostic SLUG]...", name)
		return exitConfigError
	}

	solveFlags := flag.NewFlagSet("solve", flag.ExitOnError)
	configPath := solveFlags.String("config", "", "path to the configuration file")
	dryRun := solveFlags.Bool("dry-run", false, "report decisions without creating attempts or submitting work")
	timeoutSec := solveFlags.Int("timeout", defaultSolveTimeout, "executor join timeout in seconds")

	var providerSlugs, diagnosticSlugs stringList

	solveFlags.Var(&providerSlugs, "provider", "restrict to a provider slug (repeatable)")
	solveFlags.Var(&diagnosticSlugs, "diagnostic", "restrict to a diagnostic slug (repeatable)")

	if err := solveFlags.Parse(flag.Args()[1:]); err != nil {
		return exitConfigError
	}

	cfg, err := refconfig.Load(*configPath)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	logger.Info("starting solve",
		slog.String("service", name),
		slog.String("version", version),
		slog.Bool("dry_run", *dryRun),
	)

	report, err := solve(context.Background(), cfg, solveOptions{
		dryRun:      *dryRun,
		timeout:     time.Duration(*timeoutSec) * time.Second,
		providers:   providerSlugs,
		diagnostics: diagnosticSlugs,
	}, logger)
	if report != nil {
		logger.Info("solve finished",
			slog.Int("considered", report.Considered),
			slog.Int("groups_created", report.GroupsCreated),
			slog.Int("submitted", report.Submitted),
			slog.Int("skipped", report.Skipped),
			slog.Int("in_flight", report.InFlight),
			slog.Int("errors", len(report.Errors)),
		)
	}

	if err != nil {
		if errors.Is(err, refconfig.ErrInvalidExecutor) ||
			errors.Is(err, refconfig.ErrInvalidProvider) ||
			errors.Is(err, registry.ErrDatabaseURLEmpty) {
			logger.Error("configuration error", slog.String("error", err.Error()))
			return exitConfigError
		}

		logger.Error("solve failed", slog.String("error", err.Error()))

		return exitSolveError
	}

	if report != nil && len(report.Errors) > 0 {
		return exitSolveError
	}

	return exitOK
}

type solveOptions struct {
	dryRun      bool
	timeout     time.Duration
	providers   []string
	diagnostics []string
}

// solve wires the configured collaborators together and runs SolveRequired.
func solve(ctx context.Context, cfg *refconfig.Config, opts solveOptions, logger *slog.Logger) (*solver.Report, error) {
	diagnostics := diagnostic.NewRegistry()

	for _, pc := range cfg.DiagnosticProviders {
		p, err := refconfig.NewProvider(pc.Provider, pc.Config)
		if err != nil {
			return nil, err
		}

		diagnostics.Register(p)
	}

	dbCfg := registry.LoadConfig()
	if cfg.DB.DatabaseURL != "" {
		dbCfg = registry.NewConfig(cfg.DB.DatabaseURL)
	}

	if err := dbCfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := registry.NewConnection(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	defer conn.Close()

	store := registry.NewPostgresRegistry(conn, registry.Paths{
		ScratchRoot: cfg.Paths.Scratch,
		ResultsRoot: cfg.Paths.Results,
	})

	outcome := solver.NewOutcomeRecorder(store, logger)

	cv, err := store.LoadControlledVocabulary(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading controlled vocabulary: %w", err)
	}

	executorName := cfg.Executor.Executor
	if executorName == "" {
		executorName = local.Name
	}

	exec, err := refconfig.NewExecutor(executorName, cfg.Executor.Config, refconfig.ExecutorDeps{
		Diagnostics: diagnostics,
		CV:          cv,
		Outcome:     outcome,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	// The catalog itself is ingested outside the core; the solve consumes
	// the ready-made snapshot.
	cat, err := store.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	s := solver.New(cat, store, exec, diagnostics, logger)

	return s.SolveRequired(ctx, solver.Options{
		DryRun:  opts.dryRun,
		Timeout: opts.timeout,
		Filters: solver.Filters{
			Providers:   opts.providers,
			Diagnostics: opts.diagnostics,
		},
		ScratchRoot: cfg.Paths.Scratch,
	})
}
