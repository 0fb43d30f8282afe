package async

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
)

// fakeBroker is an in-memory stand-in for the broker: written task messages
// are captured per topic, and callback messages pushed into the channel are
// served to the executor's consumer.
type fakeBroker struct {
	mu     sync.Mutex
	topics map[string][]kafka.Message

	callbacks chan kafka.Message
	readErrs  chan error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		topics:    make(map[string][]kafka.Message),
		callbacks: make(chan kafka.Message, 64),
		readErrs:  make(chan error, 64),
	}
}

type fakeWriter struct {
	broker *fakeBroker
	topic  string
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.broker.mu.Lock()
	defer w.broker.mu.Unlock()

	w.broker.topics[w.topic] = append(w.broker.topics[w.topic], msgs...)

	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	broker *fakeBroker
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case err := <-r.broker.readErrs:
		return kafka.Message{}, err
	case msg := <-r.broker.callbacks:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

func (b *fakeBroker) taskCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.topics[topic])
}

func testExecutor(t *testing.T, broker *fakeBroker, outcome executor.OutcomeFunc, cfg Config) *Executor {
	t.Helper()

	if cfg.WorkerToken == "" {
		cfg.WorkerToken = "secret-token"
	}

	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Millisecond
	}

	if cfg.MaxPollRetries == 0 {
		cfg.MaxPollRetries = 3
	}

	cfg.Brokers = []string{"fake:9092"}
	cfg = cfg.withDefaults()

	e, err := newExecutor(cfg, outcome, slog.Default(), &fakeReader{broker: broker},
		func(topic string) messageWriter { return &fakeWriter{broker: broker, topic: topic} })
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func callbackFor(t *testing.T, id uuid.UUID, successful bool, token string) kafka.Message {
	t.Helper()

	payload, err := json.Marshal(OutcomeMessage{
		ExecutionID: id,
		Successful:  successful,
		Reason:      "worker reason",
		Token:       token,
	})
	require.NoError(t, err)

	return kafka.Message{Key: []byte(id.String()), Value: payload}
}

func TestSubmitAndJoin_OutcomeDrainsOutstanding(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broker := newFakeBroker()

	var (
		mu       sync.Mutex
		recorded []uuid.UUID
	)

	outcome := func(_ context.Context, handle executor.ExecutionHandle, _ diagnostic.Result, runErr error) {
		mu.Lock()
		defer mu.Unlock()

		require.NoError(t, runErr)
		recorded = append(recorded, handle.ExecutionID)
	}

	e := testExecutor(t, broker, outcome, Config{})

	id := uuid.New()
	def := diagnostic.ExecutionDefinition{ProviderSlug: "esmvaltool", DiagnosticSlug: "ecs"}

	require.NoError(t, e.Submit(context.Background(), def, executor.ExecutionHandle{ExecutionID: id}))
	require.Equal(t, 1, broker.taskCount("esmvaltool"), "task message should land on the provider topic")

	broker.callbacks <- callbackFor(t, id, true, "secret-token")

	require.NoError(t, e.Join(context.Background(), 5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uuid.UUID{id}, recorded)
}

func TestJoin_TimesOutWhileOutstanding(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broker := newFakeBroker()
	e := testExecutor(t, broker, func(context.Context, executor.ExecutionHandle, diagnostic.Result, error) {}, Config{})

	id := uuid.New()
	require.NoError(t, e.Submit(context.Background(), diagnostic.ExecutionDefinition{ProviderSlug: "p"},
		executor.ExecutionHandle{ExecutionID: id}))

	err := e.Join(context.Background(), 20*time.Millisecond)
	require.True(t, errors.Is(err, executor.ErrJoinTimeout))

	// The handle was not abandoned: a late outcome still drains it.
	broker.callbacks <- callbackFor(t, id, true, "secret-token")
	require.NoError(t, e.Join(context.Background(), 5*time.Second))
}

func TestCallback_InvalidTokenDiscarded(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broker := newFakeBroker()

	var calls atomic.Int32

	outcome := func(context.Context, executor.ExecutionHandle, diagnostic.Result, error) {
		calls.Add(1)
	}

	e := testExecutor(t, broker, outcome, Config{})

	id := uuid.New()
	require.NoError(t, e.Submit(context.Background(), diagnostic.ExecutionDefinition{ProviderSlug: "p"},
		executor.ExecutionHandle{ExecutionID: id}))

	broker.callbacks <- callbackFor(t, id, true, "wrong-token")

	// The forged message is dropped, so the handle stays outstanding.
	err := e.Join(context.Background(), 50*time.Millisecond)
	require.True(t, errors.Is(err, executor.ErrJoinTimeout))
	require.Zero(t, calls.Load())
}

func TestCallback_FailureOutcomePropagates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broker := newFakeBroker()

	var (
		mu      sync.Mutex
		lastErr error
	)

	outcome := func(_ context.Context, _ executor.ExecutionHandle, _ diagnostic.Result, runErr error) {
		mu.Lock()
		defer mu.Unlock()

		lastErr = runErr
	}

	e := testExecutor(t, broker, outcome, Config{})

	id := uuid.New()
	require.NoError(t, e.Submit(context.Background(), diagnostic.ExecutionDefinition{ProviderSlug: "p"},
		executor.ExecutionHandle{ExecutionID: id}))

	broker.callbacks <- callbackFor(t, id, false, "secret-token")

	require.NoError(t, e.Join(context.Background(), 5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, lastErr)
	require.Contains(t, lastErr.Error(), "worker reason")
}

func TestJoin_BrokerOutageEscalatesAfterBoundedRetries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broker := newFakeBroker()
	e := testExecutor(t, broker, func(context.Context, executor.ExecutionHandle, diagnostic.Result, error) {}, Config{MaxPollRetries: 3})

	id := uuid.New()
	require.NoError(t, e.Submit(context.Background(), diagnostic.ExecutionDefinition{ProviderSlug: "p"},
		executor.ExecutionHandle{ExecutionID: id}))

	for i := 0; i < 3; i++ {
		broker.readErrs <- errors.New("connection refused")
	}

	require.Eventually(t, func() bool {
		err := e.Join(context.Background(), 10*time.Millisecond)
		return errors.Is(err, ErrBrokerUnavailable)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTokenVerifier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	v, err := NewTokenVerifier("secret-token")
	require.NoError(t, err)

	require.True(t, v.Verify("secret-token"))
	require.False(t, v.Verify("other"))
	require.False(t, v.Verify(""))

	_, err = NewTokenVerifier("")
	require.True(t, errors.Is(err, ErrTokenEmpty))
}

func TestTokenVerifier_LongToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	long := string(make([]byte, 100))

	v, err := NewTokenVerifier(long)
	require.NoError(t, err)
	require.True(t, v.Verify(long))
}
