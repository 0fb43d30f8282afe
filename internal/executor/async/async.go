package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
)

var (
	// ErrBrokerUnavailable wraps a poll failure that persisted past the
	// bounded retry budget.
	ErrBrokerUnavailable = errors.New("message broker unavailable")

	// ErrNoBrokers indicates the executor was configured without any broker
	// addresses.
	ErrNoBrokers = errors.New("no broker addresses configured")
)

const (
	defaultRefreshInterval = 500 * time.Millisecond
	defaultMaxPollRetries  = 5
)

// Config holds the async executor's broker settings.
type Config struct {
	// Brokers are the broker bootstrap addresses.
	Brokers []string

	// CallbackTopic receives outcome messages from workers. Defaults to
	// DefaultCallbackTopic.
	CallbackTopic string

	// ConsumerGroup identifies the callback consumer; one solve process per
	// group sees each outcome exactly once.
	ConsumerGroup string

	// RefreshInterval paces Join's polling of the outstanding set.
	RefreshInterval time.Duration

	// MaxPollRetries bounds consecutive callback-read failures before Join
	// escalates ErrBrokerUnavailable.
	MaxPollRetries int

	// WorkerToken is the shared secret workers present on outcome messages.
	WorkerToken string
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.WorkerToken == "" {
		return ErrTokenEmpty
	}

	return nil
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.CallbackTopic == "" {
		out.CallbackTopic = DefaultCallbackTopic
	}

	if out.ConsumerGroup == "" {
		out.ConsumerGroup = "refcore-solver"
	}

	if out.RefreshInterval <= 0 {
		out.RefreshInterval = defaultRefreshInterval
	}

	if out.MaxPollRetries <= 0 {
		out.MaxPollRetries = defaultMaxPollRetries
	}

	return out
}

// messageWriter and messageReader are the narrow slices of kafka-go this
// executor uses, so tests can substitute in-memory fakes.
type (
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	messageReader interface {
		ReadMessage(ctx context.Context) (kafka.Message, error)
		Close() error
	}
)

// Executor submits task messages onto a topic named after each diagnostic's
// provider slug and awaits outcome messages on the shared callback topic.
// Handles removed from the outstanding set remain runnable on the worker; a
// timed-out Join abandons nothing.
type Executor struct {
	cfg      Config
	outcome  executor.OutcomeFunc
	verifier *TokenVerifier
	logger   *slog.Logger

	newWriter func(topic string) messageWriter

	mu          sync.Mutex
	writers     map[string]messageWriter
	outstanding map[uuid.UUID]struct{}
	pollErr     error

	consumeStop chan struct{}
	consumeDone chan struct{}
}

// New builds the executor and starts its callback consumer.
func New(cfg Config, outcome executor.OutcomeFunc, logger *slog.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	newWriter := func(topic string) messageWriter {
		return &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.ConsumerGroup,
		Topic:   cfg.CallbackTopic,
	})

	return newExecutor(cfg, outcome, logger, reader, newWriter)
}

// newExecutor wires an executor onto explicit broker endpoints; tests pass
// in-memory fakes here.
func newExecutor(cfg Config, outcome executor.OutcomeFunc, logger *slog.Logger, reader messageReader, newWriter func(topic string) messageWriter) (*Executor, error) {
	verifier, err := NewTokenVerifier(cfg.WorkerToken)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		cfg:         cfg,
		outcome:     outcome,
		verifier:    verifier,
		logger:      logger,
		newWriter:   newWriter,
		writers:     make(map[string]messageWriter),
		outstanding: make(map[uuid.UUID]struct{}),
		consumeStop: make(chan struct{}),
		consumeDone: make(chan struct{}),
	}

	go e.consumeCallbacks(reader)

	return e, nil
}

// Submit publishes one task message onto the provider's topic and adds the
// handle to the outstanding set Join waits on.
func (e *Executor) Submit(ctx context.Context, def diagnostic.ExecutionDefinition, handle executor.ExecutionHandle) error {
	payload, err := json.Marshal(TaskMessage{ExecutionID: handle.ExecutionID, Definition: def})
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}

	w := e.writerFor(def.ProviderSlug)

	msg := kafka.Message{
		Key:   []byte(handle.ExecutionID.String()),
		Value: payload,
	}

	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("submit to topic %q: %w", def.ProviderSlug, err)
	}

	e.mu.Lock()
	e.outstanding[handle.ExecutionID] = struct{}{}
	e.mu.Unlock()

	return nil
}

func (e *Executor) writerFor(topic string) messageWriter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.writers[topic]; ok {
		return w
	}

	w := e.newWriter(topic)
	e.writers[topic] = w

	return w
}

// Join polls the outstanding set at the configured refresh interval until it
// drains or timeout elapses. Broker outages observed by the callback
// consumer surface here after the bounded retry budget is spent.
func (e *Executor) Join(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(e.cfg.RefreshInterval), 1)

	for {
		e.mu.Lock()
		remaining := len(e.outstanding)
		pollErr := e.pollErr
		e.mu.Unlock()

		if pollErr != nil {
			return pollErr
		}

		if remaining == 0 {
			return nil
		}

		e.logger.Debug("awaiting async executions", slog.Int("outstanding", remaining))

		if err := limiter.Wait(ctx); err != nil {
			// Wait fails both when the deadline fires mid-wait and when the
			// next tick would cross it; either way the join has timed out
			// unless the caller cancelled outright.
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}

			return executor.ErrJoinTimeout
		}
	}
}

// Close stops the callback consumer and closes every producer.
func (e *Executor) Close() error {
	close(e.consumeStop)
	<-e.consumeDone

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	for topic, w := range e.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer for %q: %w", topic, err))
		}
	}

	return errors.Join(errs...)
}

// consumeCallbacks drains the callback topic, converting each verified
// outcome message into an OutcomeFunc call. Consecutive read failures past
// the retry budget park ErrBrokerUnavailable for Join to surface.
func (e *Executor) consumeCallbacks(reader messageReader) {
	defer close(e.consumeDone)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-e.consumeStop
		cancel()
	}()

	failures := 0

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			failures++
			if failures >= e.cfg.MaxPollRetries {
				e.mu.Lock()
				e.pollErr = fmt.Errorf("%w: %d consecutive read failures: %v",
					ErrBrokerUnavailable, failures, err)
				e.mu.Unlock()

				return
			}

			e.logger.Warn("callback read failed, retrying",
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)

			continue
		}

		failures = 0
		e.handleCallback(ctx, msg.Value)
	}
}

func (e *Executor) handleCallback(ctx context.Context, payload []byte) {
	var out OutcomeMessage

	if err := json.Unmarshal(payload, &out); err != nil {
		e.logger.Warn("discarding malformed outcome message", slog.String("error", err.Error()))
		return
	}

	if !e.verifier.Verify(out.Token) {
		e.logger.Warn("discarding outcome message with invalid worker token",
			slog.String("execution_id", out.ExecutionID.String()),
		)

		return
	}

	e.mu.Lock()
	_, known := e.outstanding[out.ExecutionID]
	delete(e.outstanding, out.ExecutionID)
	e.mu.Unlock()

	if !known {
		// An outcome for a submission from a previous process; still record
		// it so the registry converges.
		e.logger.Info("outcome for unknown handle",
			slog.String("execution_id", out.ExecutionID.String()),
		)
	}

	result := diagnostic.Result{
		Bundles:   out.Bundles,
		Plots:     out.Plots,
		DataFiles: out.DataFiles,
	}

	var runErr error
	if !out.Successful {
		runErr = fmt.Errorf("worker reported failure: %s", out.Reason)
	}

	e.outcome(ctx, executor.ExecutionHandle{ExecutionID: out.ExecutionID}, result, runErr)
}
