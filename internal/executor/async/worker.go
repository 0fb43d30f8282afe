package async

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/segmentio/kafka-go"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/validate"
)

// WorkerConfig holds the worker process's broker settings.
type WorkerConfig struct {
	// Brokers are the broker bootstrap addresses.
	Brokers []string

	// ProviderSlug names the task topic this worker drains.
	ProviderSlug string

	// ConsumerGroup shares the topic across a pool of worker processes.
	ConsumerGroup string

	// CallbackTopic receives the outcome messages this worker publishes.
	CallbackTopic string

	// WorkerToken is the shared secret presented on outcome messages.
	WorkerToken string
}

// Worker drains one provider's task topic in a separate process: it resolves
// each task's diagnostic by (provider_slug, diagnostic_slug) in its local
// registry, runs it, validates the metric bundle, and publishes the outcome
// onto the callback topic.
type Worker struct {
	cfg         WorkerConfig
	diagnostics *diagnostic.Registry
	cv          *validate.ControlledVocabulary
	logger      *slog.Logger

	reader messageReader
	writer messageWriter
}

// NewWorker connects a worker to its task and callback topics. cv may be nil
// to skip result validation.
func NewWorker(cfg WorkerConfig, diagnostics *diagnostic.Registry, cv *validate.ControlledVocabulary, logger *slog.Logger) (*Worker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if cfg.WorkerToken == "" {
		return nil, ErrTokenEmpty
	}

	if cfg.CallbackTopic == "" {
		cfg.CallbackTopic = DefaultCallbackTopic
	}

	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "refcore-worker-" + cfg.ProviderSlug
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.ConsumerGroup,
		Topic:   cfg.ProviderSlug,
	})

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.CallbackTopic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Worker{
		cfg:         cfg,
		diagnostics: diagnostics,
		cv:          cv,
		logger:      logger,
		reader:      reader,
		writer:      writer,
	}, nil
}

// Run processes task messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()
	defer w.writer.Close()

	for {
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("reading task message: %w", err)
		}

		var task TaskMessage
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			w.logger.Warn("discarding malformed task message", slog.String("error", err.Error()))
			continue
		}

		outcome := w.execute(ctx, task)

		payload, err := json.Marshal(outcome)
		if err != nil {
			w.logger.Error("marshal outcome message", slog.String("error", err.Error()))
			continue
		}

		callback := kafka.Message{
			Key:   []byte(task.ExecutionID.String()),
			Value: payload,
		}

		if err := w.writer.WriteMessages(ctx, callback); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("publishing outcome for %s: %w", task.ExecutionID, err)
		}
	}
}

// execute runs one task the same way a Local worker does: prepare the output
// directory, redirect the run log, invoke the diagnostic, validate the
// bundle. Any failure becomes a failed OutcomeMessage, never an error that
// stops the worker loop.
func (w *Worker) execute(ctx context.Context, task TaskMessage) OutcomeMessage {
	result, err := w.invoke(ctx, task.Definition)

	if err == nil && w.cv != nil && result.Metrics != nil {
		if verr := w.cv.Validate(result.Metrics); verr != nil {
			err = fmt.Errorf("result validation: %w", verr)
		}
	}

	out := OutcomeMessage{
		ExecutionID: task.ExecutionID,
		Successful:  err == nil,
		Bundles:     result.Bundles,
		Plots:       result.Plots,
		DataFiles:   result.DataFiles,
		Token:       w.cfg.WorkerToken,
	}

	if err != nil {
		out.Reason = err.Error()

		w.logger.Warn("task execution failed",
			slog.String("execution_id", task.ExecutionID.String()),
			slog.String("error", err.Error()),
		)
	}

	return out
}

func (w *Worker) invoke(ctx context.Context, def diagnostic.ExecutionDefinition) (result diagnostic.Result, runErr error) {
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

	logFile, err := os.Create(filepath.Join(outputDir, "out.log")) //nolint:gosec // path derived from the worker's own output root
	if err != nil {
		return diagnostic.Result{}, fmt.Errorf("creating execution log: %w", err)
	}
	defer logFile.Close()

	runLogger := slog.New(slog.NewJSONHandler(logFile, nil))
	runLogger.Info("execution started",
		slog.String("provider", def.ProviderSlug),
		slog.String("diagnostic", def.DiagnosticSlug),
	)

	d, err := w.diagnostics.Diagnostic(def.ProviderSlug, def.DiagnosticSlug)
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
