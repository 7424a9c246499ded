// Command migrate-gen generates SQL migration files for the SQL-backed shared store.
//
// Usage:
//
//	go run github.com/getpup/synthbuffer/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/synthbuffer/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/synthbuffer/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/synthbuffer/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/synthbuffer/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize names:
//
//	go run github.com/getpup/synthbuffer/cmd/migrate-gen -schema buffers -lists-table q_lists -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/synthbuffer/pkg/migrations"
)

func main() {
	defaults := migrations.DefaultConfig()

	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", defaults.OutputFolder, "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName     = flag.String("schema", defaults.SchemaName, "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		listsTable     = flag.String("lists-table", defaults.ListsTable, "Name of the list elements table")
		valuesTable    = flag.String("values-table", defaults.ValuesTable, "Name of the string values table")
		locksTable     = flag.String("locks-table", defaults.LocksTable, "Name of the lock leases table")
	)

	flag.Parse()

	config := defaults
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.ListsTable = *listsTable
	config.ValuesTable = *valuesTable
	config.LocksTable = *locksTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
