//go:build integration

package integration

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/getpup/synthbuffer/store"
	pgstore "github.com/getpup/synthbuffer/store/postgres"
	redisstore "github.com/getpup/synthbuffer/store/redis"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

// setupTables recreates the shared store tables using the default configuration.
func setupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := pgstore.DefaultTableConfig()

	if _, err := db.Exec(pgstore.MigrationDown(config)); err != nil {
		t.Logf("warning: failed to drop tables (may not exist): %v", err)
	}

	if _, err := db.Exec(pgstore.MigrationUp(config)); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
}

// cleanupTables truncates the shared store tables.
// Errors are logged but don't fail the test (cleanup is best-effort).
func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := pgstore.DefaultTableConfig()
	for _, table := range []string{config.ListsTable, config.ValuesTable, config.LocksTable} {
		if _, err := db.Exec("TRUNCATE " + table); err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// teardownTables drops the shared store tables using the default configuration.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB) {
	t.Helper()

	if _, err := db.Exec(pgstore.MigrationDown(pgstore.DefaultTableConfig())); err != nil {
		t.Logf("warning: failed to drop tables: %v", err)
	}
}

// getTestRedis returns a Redis-backed store for integration tests.
// It reads the REDIS_ADDR environment variable and skips the test if not set.
func getTestRedis(t *testing.T) (*redisstore.Store, *goredis.Client) {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	s := redisstore.New(client)
	if err := s.Ping(context.Background()); err != nil {
		_ = client.Close()
		t.Fatalf("failed to ping redis: %v", err)
	}

	return s, client
}

// backends runs fn once per configured shared store backend.
func backends(t *testing.T, fn func(t *testing.T, s store.SharedStore)) {
	t.Run("postgres", func(t *testing.T) {
		db := getTestDB(t)
		defer db.Close()

		setupTables(t, db)
		defer teardownTables(t, db)

		fn(t, pgstore.New(db))
	})

	t.Run("redis", func(t *testing.T) {
		s, client := getTestRedis(t)
		defer client.Close()

		namespaceKeys, err := client.Keys(context.Background(), "it-*").Result()
		if err == nil && len(namespaceKeys) > 0 {
			client.Del(context.Background(), namespaceKeys...)
		}

		fn(t, s)
	})
}
