package async

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/requirement"
)

type integrationDiagnostic struct{}

func (integrationDiagnostic) Slug() string                            { return "ecs" }
func (integrationDiagnostic) ProviderSlug() string                    { return "esmvaltool" }
func (integrationDiagnostic) Version() string                         { return "1.0.0" }
func (integrationDiagnostic) Facets() []string                        { return nil }
func (integrationDiagnostic) Requirements() []requirement.Requirement { return nil }

func (integrationDiagnostic) Run(context.Context, diagnostic.ExecutionDefinition) (diagnostic.Result, error) {
	return diagnostic.Result{Bundles: []string{"diagnostic.json"}}, nil
}

// TestAsyncExecutor_EndToEnd runs a real broker: the executor submits onto
// the provider topic, a worker drains it and publishes the outcome, and the
// executor's callback consumer records it.
func TestAsyncExecutor_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("refcore-test"),
	)
	require.NoError(t, err, "Failed to start kafka container")
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(kafkaContainer)
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	diagnostics := diagnostic.NewRegistry()
	diagnostics.Register(&diagnostic.Provider{
		Slug:        "esmvaltool",
		Version:     "1.0.0",
		Diagnostics: []diagnostic.Diagnostic{integrationDiagnostic{}},
	})

	var (
		mu       sync.Mutex
		recorded []uuid.UUID
	)

	outcome := func(_ context.Context, handle executor.ExecutionHandle, result diagnostic.Result, runErr error) {
		mu.Lock()
		defer mu.Unlock()

		require.NoError(t, runErr)
		require.Equal(t, []string{"diagnostic.json"}, result.Bundles)
		recorded = append(recorded, handle.ExecutionID)
	}

	exec, err := New(Config{
		Brokers:         brokers,
		WorkerToken:     "integration-token",
		RefreshInterval: 100 * time.Millisecond,
		// The callback topic is auto-created on first write; give the
		// consumer room to retry until it exists.
		MaxPollRetries: 100,
	}, outcome, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	worker, err := NewWorker(WorkerConfig{
		Brokers:      brokers,
		ProviderSlug: "esmvaltool",
		WorkerToken:  "integration-token",
	}, diagnostics, nil, slog.Default())
	require.NoError(t, err)

	workerCtx, stopWorker := context.WithCancel(ctx)
	t.Cleanup(stopWorker)

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(workerCtx)
	}()

	id := uuid.New()
	def := diagnostic.ExecutionDefinition{
		ProviderSlug:   "esmvaltool",
		DiagnosticSlug: "ecs",
		RootOutputDir:  t.TempDir(),
		OutputFragment: "esmvaltool/ecs/k/0",
	}

	require.NoError(t, exec.Submit(ctx, def, executor.ExecutionHandle{ExecutionID: id}))
	require.NoError(t, exec.Join(ctx, 2*time.Minute))

	mu.Lock()
	require.Equal(t, []uuid.UUID{id}, recorded)
	mu.Unlock()

	stopWorker()
	require.NoError(t, <-workerDone)
}
