package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const defaultLockPollInterval = 25 * time.Millisecond

// Store is a PostgreSQL implementation of SharedStore.
// It lets several processes share a buffer when Redis is not available.
type Store struct {
	db               *sql.DB
	listsTable       string
	valuesTable      string
	locksTable       string
	lockPollInterval time.Duration
}

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	config := DefaultTableConfig()
	return NewWithConfig(db, config)
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:               db,
		listsTable:       config.ListsTable,
		valuesTable:      config.ValuesTable,
		locksTable:       config.LocksTable,
		lockPollInterval: defaultLockPollInterval,
	}
}

// Push appends value to the tail of the list at key.
func (s *Store) Push(ctx context.Context, key, value string) (int, error) {
	// The CTE's insert is not visible to the count, hence the +1.
	query := fmt.Sprintf(`
		WITH ins AS (
			INSERT INTO %s (key, value) VALUES ($1, $2)
		)
		SELECT COUNT(*) + 1 FROM %s WHERE key = $1
	`, s.listsTable, s.listsTable)

	var n int
	if err := s.db.QueryRowContext(ctx, query, key, value).Scan(&n); err != nil {
		return 0, synthbuffer.Unavailable("failed to push", err)
	}

	return n, nil
}

// Pop removes and returns the head of the list at key.
// Concurrent poppers skip rows locked by each other.
func (s *Store) Pop(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = (
			SELECT id FROM %s
			WHERE key = $1
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING value
	`, s.listsTable, s.listsTable)

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to pop", err)
	}

	return value, true, nil
}

// Index returns the element at position i without removing it.
// Negative positions count from the tail.
func (s *Store) Index(ctx context.Context, key string, i int) (string, bool, error) {
	order, offset := "ASC", i
	if i < 0 {
		order, offset = "DESC", -i-1
	}

	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key = $1
		ORDER BY id %s
		OFFSET $2
		LIMIT 1
	`, s.listsTable, order)

	var value string
	err := s.db.QueryRowContext(ctx, query, key, offset).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to read list index", err)
	}

	return value, true, nil
}

// Len returns the length of the list at key.
func (s *Store) Len(ctx context.Context, key string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE key = $1`, s.listsTable)

	var n int
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&n); err != nil {
		return 0, synthbuffer.Unavailable("failed to get list length", err)
	}

	return n, nil
}

// Range returns every element of the list at key, head first.
func (s *Store) Range(ctx context.Context, key string) ([]string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 ORDER BY id`, s.listsTable)

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to scan list", err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan list element: %w", err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, synthbuffer.Unavailable("failed to iterate list", err)
	}

	return values, nil
}

// RemoveFirst removes the first element equal to value.
func (s *Store) RemoveFirst(ctx context.Context, key, value string) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = (
			SELECT id FROM %s
			WHERE key = $1 AND value = $2
			ORDER BY id
			LIMIT 1
		)
	`, s.listsTable, s.listsTable)

	result, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to remove", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// Get returns the string stored at key. Expired values are treated as missing.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, s.valuesTable)

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to get", err)
	}

	return value, true, nil
}

// Set stores value at key, replacing any previous value and expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3::BIGINT > 0 THEN NOW() + $3::BIGINT * INTERVAL '1 millisecond' END)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, s.valuesTable)

	if _, err := s.db.ExecContext(ctx, query, key, value, ttl.Milliseconds()); err != nil {
		return synthbuffer.Unavailable("failed to set", err)
	}

	return nil
}

// Delete removes the given keys from both the values and lists tables.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		WITH v AS (
			DELETE FROM %s WHERE key = ANY($1) RETURNING key
		), l AS (
			DELETE FROM %s WHERE key = ANY($1) RETURNING key
		)
		SELECT COUNT(DISTINCT key) FROM (SELECT key FROM v UNION ALL SELECT key FROM l) deleted
	`, s.valuesTable, s.listsTable)

	var n int
	if err := s.db.QueryRowContext(ctx, query, pq.Array(keys)).Scan(&n); err != nil {
		return 0, synthbuffer.Unavailable("failed to delete", err)
	}

	return n, nil
}

// TTL returns the remaining time to live of key, or 0 if it has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	query := fmt.Sprintf(`
		SELECT EXTRACT(EPOCH FROM (expires_at - NOW()))::DOUBLE PRECISION
		FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, s.valuesTable)

	var seconds sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&seconds)
	if errors.Is(err, sql.ErrNoRows) {
		n, lenErr := s.Len(ctx, key)
		if lenErr != nil {
			return 0, lenErr
		}
		if n > 0 {
			return 0, nil
		}
		return 0, store.ErrKeyNotFound
	}
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to get ttl", err)
	}

	if !seconds.Valid {
		return 0, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), nil
}

// Keys returns every live string key starting with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT key FROM %s
		WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY key
	`, s.valuesTable)

	rows, err := s.db.QueryContext(ctx, query, likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to scan keys", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, synthbuffer.Unavailable("failed to iterate keys", err)
	}

	return keys, nil
}

// PurgeExpired deletes expired values and lock leases.
// Returns the number of deleted value rows.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= NOW()`, s.valuesTable))
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to purge values", err)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= NOW()`, s.locksTable)); err != nil {
		return 0, synthbuffer.Unavailable("failed to purge locks", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// AcquireLock takes a lease row for name, polling until timeout elapses.
// An expired lease is taken over by the next caller.
func (s *Store) AcquireLock(ctx context.Context, name string, timeout time.Duration) (store.Lock, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, token, expires_at)
		VALUES ($1, $2, NOW() + $3::BIGINT * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at <= NOW()
	`, s.locksTable, s.locksTable)

	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(s.lockPollInterval)
	defer ticker.Stop()

	for {
		result, err := s.db.ExecContext(ctx, query, name, token, timeout.Milliseconds())
		if err != nil {
			return nil, synthbuffer.Unavailable("failed to obtain lock", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check rows affected: %w", err)
		}

		if rowsAffected == 1 {
			return &lock{store: s, name: name, token: token}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", name, synthbuffer.ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %q: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

type lock struct {
	store *Store
	name  string
	token string
}

// Release implements store.Lock. It only deletes the lease if this holder still owns it.
func (l *lock) Release(ctx context.Context) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE name = $1 AND token = $2 AND expires_at > NOW()
	`, l.store.locksTable)

	result, err := l.store.db.ExecContext(ctx, query, l.name, l.token)
	if err != nil {
		return synthbuffer.Unavailable("failed to release lock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrLockNotHeld
	}

	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
