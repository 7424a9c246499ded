package postgres

import "fmt"

// TableConfig configures the table names used by the shared store.
type TableConfig struct {
	// ListsTable stores list elements, one row per element ordered by id.
	ListsTable string

	// ValuesTable stores string values with an optional expiry.
	ValuesTable string

	// LocksTable stores named lock leases.
	LocksTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		ListsTable:  "synthbuffer_lists",
		ValuesTable: "synthbuffer_values",
		LocksTable:  "synthbuffer_locks",
	}
}

// MigrationUp returns the SQL to create the shared store tables.
// It creates the lists table with an index on (key, id) so head reads are
// index scans, the values table with an index on expires_at for purging,
// and the locks table.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create %[1]s table
CREATE TABLE %[1]s (
    id BIGSERIAL PRIMARY KEY,
    key TEXT NOT NULL,
    value TEXT NOT NULL
);

-- Index for reading a list in insertion order
CREATE INDEX idx_%[1]s_key_id ON %[1]s(key, id);

-- Create %[2]s table
CREATE TABLE %[2]s (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at TIMESTAMPTZ
);

-- Index for purging expired values
CREATE INDEX idx_%[2]s_expires_at ON %[2]s(expires_at) WHERE expires_at IS NOT NULL;

-- Create %[3]s table
CREATE TABLE %[3]s (
    name TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`, config.ListsTable, config.ValuesTable, config.LocksTable)
}

// MigrationDown returns the SQL to drop the shared store tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop %[3]s table
DROP TABLE IF EXISTS %[3]s;

-- Drop %[2]s table
DROP TABLE IF EXISTS %[2]s;

-- Drop %[1]s table
DROP TABLE IF EXISTS %[1]s;
`, config.ListsTable, config.ValuesTable, config.LocksTable)
}
