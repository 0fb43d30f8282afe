// Package refconfig loads the top-level application configuration: paths,
// database, executor selection, and the ordered diagnostic provider list.
// The scalar keys (paths.scratch, paths.results, paths.log, db.database_url,
// executor.executor, log_level) have a REF_-prefixed environment variable
// override named after their underscored path (paths.scratch ->
// REF_PATHS_SCRATCH). executor.config and diagnostic_providers have no
// environment override and are read from the file only.
package refconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/climate-ref/refcore/internal/config"
)

var (
	// ErrScratchPathEmpty indicates paths.scratch is missing.
	ErrScratchPathEmpty = errors.New("paths.scratch cannot be empty")

	// ErrResultsPathEmpty indicates paths.results is missing.
	ErrResultsPathEmpty = errors.New("paths.results cannot be empty")

	// ErrInvalidLogLevel indicates log_level is not one of
	// DEBUG|INFO|WARNING|ERROR.
	ErrInvalidLogLevel = errors.New("log_level must be one of DEBUG, INFO, WARNING, ERROR")
)

type (
	// PathsConfig locates the working directories.
	PathsConfig struct {
		Scratch string `yaml:"scratch"`
		Results string `yaml:"results"`
		Log     string `yaml:"log"`
	}

	// DBConfig holds the persistence connection string.
	DBConfig struct {
		DatabaseURL string `yaml:"database_url"`
	}

	// ExecutorConfig selects and parameterizes the executor implementation.
	// Executor names resolve through the factory registry populated at init
	// time by the executor packages.
	ExecutorConfig struct {
		Executor string         `yaml:"executor"`
		Config   map[string]any `yaml:"config"`
	}

	// ProviderConfig names one diagnostic provider factory plus its
	// configuration.
	ProviderConfig struct {
		Provider string         `yaml:"provider"`
		Config   map[string]any `yaml:"config"`
	}

	// Config is the full recognized configuration schema. Unknown keys are
	// rejected at load time with a line hint.
	Config struct {
		Paths               PathsConfig      `yaml:"paths"`
		DB                  DBConfig         `yaml:"db"`
		Executor            ExecutorConfig   `yaml:"executor"`
		DiagnosticProviders []ProviderConfig `yaml:"diagnostic_providers"`
		LogLevel            string           `yaml:"log_level"`
	}
)

// Load reads the configuration file at path, rejects unrecognized keys, and
// applies environment overrides. An empty path yields a config built from
// defaults and the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{LogLevel: "INFO"}

	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // the config path is operator-supplied by design
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)

		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Paths.Scratch = config.GetEnvStr("REF_PATHS_SCRATCH", c.Paths.Scratch)
	c.Paths.Results = config.GetEnvStr("REF_PATHS_RESULTS", c.Paths.Results)
	c.Paths.Log = config.GetEnvStr("REF_PATHS_LOG", c.Paths.Log)
	c.DB.DatabaseURL = config.GetEnvStr("REF_DB_DATABASE_URL", c.DB.DatabaseURL)
	c.Executor.Executor = config.GetEnvStr("REF_EXECUTOR_EXECUTOR", c.Executor.Executor)
	c.LogLevel = config.GetEnvStr("REF_LOG_LEVEL", c.LogLevel)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.Scratch) == "" {
		return ErrScratchPathEmpty
	}

	if strings.TrimSpace(c.Paths.Results) == "" {
		return ErrResultsPathEmpty
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// SlogLevel maps the configured log level onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
