// Package migrations generates SQL migration files for the shared store tables:
// list elements, expiring values and lock leases. PostgreSQL, MySQL/MariaDB
// and SQLite dialects are supported.
package migrations
