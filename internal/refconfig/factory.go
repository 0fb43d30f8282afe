package refconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/executor"
	"github.com/climate-ref/refcore/internal/validate"
)

var (
	// ErrInvalidExecutor indicates executor.executor named a factory that
	// was never registered. Fatal at startup.
	ErrInvalidExecutor = errors.New("invalid executor")

	// ErrInvalidProvider indicates diagnostic_providers named a factory
	// that was never registered. Fatal at startup.
	ErrInvalidProvider = errors.New("invalid provider")
)

type (
	// ExecutorDeps carries the collaborators an executor factory wires in.
	ExecutorDeps struct {
		Diagnostics *diagnostic.Registry
		CV          *validate.ControlledVocabulary
		Outcome     executor.OutcomeFunc
		Logger      *slog.Logger
	}

	// ExecutorFactory builds an executor from its config map. Factories
	// register themselves by name at init time, the static-dispatch
	// equivalent of importing an executor class by qualified name.
	ExecutorFactory func(cfg map[string]any, deps ExecutorDeps) (executor.Executor, error)

	// ProviderFactory builds a diagnostic provider from its config map.
	ProviderFactory func(cfg map[string]any) (*diagnostic.Provider, error)
)

var (
	factoryMu         sync.RWMutex
	executorFactories = make(map[string]ExecutorFactory)
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterExecutor registers a named executor factory. Called from the
// executor packages' init functions.
func RegisterExecutor(name string, factory ExecutorFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	executorFactories[name] = factory
}

// NewExecutor resolves and invokes the named executor factory.
func NewExecutor(name string, cfg map[string]any, deps ExecutorDeps) (executor.Executor, error) {
	factoryMu.RLock()
	factory, ok := executorFactories[name]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrInvalidExecutor, name)
	}

	exec, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExecutor, name, err)
	}

	return exec, nil
}

// RegisterProvider registers a named diagnostic provider factory.
func RegisterProvider(name string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	providerFactories[name] = factory
}

// NewProvider resolves and invokes the named provider factory.
func NewProvider(name string, cfg map[string]any) (*diagnostic.Provider, error) {
	factoryMu.RLock()
	factory, ok := providerFactories[name]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrInvalidProvider, name)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidProvider, name, err)
	}

	return p, nil
}

// Config-map coercion helpers for factories. YAML decoding produces
// map[string]any values whose concrete types vary by scalar kind.

// StringOption reads a string-valued option.
func StringOption(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}

	return fallback
}

// IntOption reads an int-valued option.
func IntOption(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// DurationOption reads a duration-valued option given as a string like
// "500ms".
func DurationOption(cfg map[string]any, key string, fallback time.Duration) time.Duration {
	if v, ok := cfg[key].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}

	return fallback
}

// StringListOption reads a list-of-strings option.
func StringListOption(cfg map[string]any, key string) []string {
	raw, ok := cfg[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))

	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}

	return out
}
