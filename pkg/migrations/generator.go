package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	for _, f := range []struct{ value, name string }{
		{config.SchemaName, "SchemaName"},
		{config.ListsTable, "ListsTable"},
		{config.ValuesTable, "ValuesTable"},
		{config.LocksTable, "LocksTable"},
	} {
		if err := validateIdentifier(f.value, f.name); err != nil {
			return err
		}
	}
	return nil
}

// Config configures migration generation for the shared store tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL).
	// For SQLite, it becomes a table name prefix (e.g., synthbuffer_lists).
	SchemaName string

	// ListsTable holds list elements, one row per element.
	ListsTable string

	// ValuesTable holds string values with an optional expiry.
	ValuesTable string

	// LocksTable holds named lock leases.
	LocksTable string
}

// DefaultConfig returns the default configuration for shared store migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_synthbuffer_store.sql", timestamp),
		SchemaName:     "synthbuffer",
		ListsTable:     "lists",
		ValuesTable:    "store_values",
		LocksTable:     "locks",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(config, generatePostgresSQL)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return generate(config, generateMySQLSQL)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(config, generateSQLiteSQL)
}

func generate(config *Config, render func(*Config) string) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(render(config)), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Synthbuffer Shared Store Migration
-- Generated: %[1]s
-- Database: PostgreSQL

CREATE SCHEMA IF NOT EXISTS %[2]s;

-- List elements in insertion order; a queue is every row with the same key
CREATE TABLE IF NOT EXISTS %[2]s.%[3]s (
    id BIGSERIAL PRIMARY KEY,
    key TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[3]s_key_id
    ON %[2]s.%[3]s (key, id);

-- String values; NULL expires_at never expires
CREATE TABLE IF NOT EXISTS %[2]s.%[4]s (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_%[4]s_expires_at
    ON %[2]s.%[4]s (expires_at) WHERE expires_at IS NOT NULL;

-- Lock leases; an expired lease may be taken over
CREATE TABLE IF NOT EXISTS %[2]s.%[5]s (
    name TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`,
		time.Now().Format(time.RFC3339),
		config.SchemaName,
		config.ListsTable,
		config.ValuesTable,
		config.LocksTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Synthbuffer Shared Store Migration
-- Generated: %[1]s
-- Database: MySQL/MariaDB

-- In MySQL, we use a separate database instead of schema
CREATE DATABASE IF NOT EXISTS %[2]s
    DEFAULT CHARACTER SET utf8mb4
    DEFAULT COLLATE utf8mb4_unicode_ci;

USE %[2]s;

-- List elements in insertion order; a queue is every row with the same key
CREATE TABLE IF NOT EXISTS %[3]s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    `+"`key`"+` VARCHAR(512) NOT NULL,
    value LONGTEXT NOT NULL,

    INDEX idx_%[3]s_key_id (`+"`key`"+`, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- String values; NULL expires_at never expires
CREATE TABLE IF NOT EXISTS %[4]s (
    `+"`key`"+` VARCHAR(512) PRIMARY KEY,
    value LONGTEXT NOT NULL,
    expires_at TIMESTAMP(6) NULL DEFAULT NULL,

    INDEX idx_%[4]s_expires_at (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Lock leases; an expired lease may be taken over
CREATE TABLE IF NOT EXISTS %[5]s (
    name VARCHAR(512) PRIMARY KEY,
    token VARCHAR(64) NOT NULL,
    expires_at TIMESTAMP(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.SchemaName,
		config.ListsTable,
		config.ValuesTable,
		config.LocksTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	// SQLite doesn't support schemas, so we use table name prefixes instead
	listsTable := config.SchemaName + "_" + config.ListsTable
	valuesTable := config.SchemaName + "_" + config.ValuesTable
	locksTable := config.SchemaName + "_" + config.LocksTable

	return fmt.Sprintf(`-- Synthbuffer Shared Store Migration
-- Generated: %[1]s
-- Database: SQLite

-- List elements in insertion order; a queue is every row with the same key
CREATE TABLE IF NOT EXISTS %[2]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_key_id
    ON %[2]s (key, id);

-- String values; NULL expires_at never expires
CREATE TABLE IF NOT EXISTS %[3]s (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_%[3]s_expires_at
    ON %[3]s (expires_at);

-- Lock leases; an expired lease may be taken over
CREATE TABLE IF NOT EXISTS %[4]s (
    name TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
`,
		time.Now().Format(time.RFC3339),
		listsTable,
		valuesTable,
		locksTable,
	)
}
