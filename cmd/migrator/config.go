package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the migrator's settings: where the database is, where the
// migration files live, and which table tracks applied versions.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationsPath is the directory holding NNN_name.{up,down}.sql files.
	MigrationsPath string

	// MigrationTable is the table golang-migrate records versions in.
	MigrationTable string
}

// LoadConfig reads the migrator settings from the environment.
// REF_DB_DATABASE_URL takes precedence over the plain DATABASE_URL so the
// migrator honors the same override scheme as the rest of the configuration
// surface.
func LoadConfig() (*Config, error) {
	databaseURL := getEnvOrDefault("REF_DB_DATABASE_URL", "")
	if databaseURL == "" {
		databaseURL = getEnvOrDefault("DATABASE_URL", "")
	}

	config := &Config{
		DatabaseURL:    databaseURL,
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "./migrations"),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the settings and resolves MigrationsPath to an absolute
// directory that must already exist.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	if c.MigrationsPath == "" {
		return fmt.Errorf("MIGRATIONS_PATH cannot be empty")
	}

	absPath, err := filepath.Abs(c.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	c.MigrationsPath = absPath

	if _, err := os.Stat(c.MigrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", c.MigrationsPath)
	}

	return nil
}

// String renders the configuration with the database password masked, safe
// for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationsPath: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationsPath, c.MigrationTable)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// maskDatabaseURL replaces the password in a connection URL with ***.
// Passwords containing "@" or ":" are handled by taking the last "@" of the
// authority section and the first ":" of the user info.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	authority := url[schemeEnd+3:]
	if end := strings.IndexAny(authority, "/?#"); end != -1 {
		authority = authority[:end]
	}

	atPos := strings.LastIndex(authority, "@")
	if atPos == -1 {
		return url
	}

	userInfo := authority[:atPos]

	colonPos := strings.Index(userInfo, ":")
	if colonPos == -1 {
		return url
	}

	if colonPos == len(userInfo)-1 {
		// Empty password, nothing worth masking.
		return url
	}

	maskStart := schemeEnd + 3 + colonPos + 1
	maskEnd := schemeEnd + 3 + atPos

	return url[:maskStart] + "***" + url[maskEnd:]
}
