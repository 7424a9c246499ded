package store

import (
	"context"
	"time"
)

// SharedStore is the key-value store with list operations that every
// buffer component is built on. All state shared between workers and
// processes lives here.
// Implementations must be safe for concurrent access from multiple workers.
//
// Connectivity failures are wrapped with synthbuffer.ErrStoreUnavailable.
// Implementations never retry.
type SharedStore interface {
	// Push appends value to the tail of the list at key.
	// Returns the new length of the list.
	Push(ctx context.Context, key, value string) (int, error)

	// Pop removes and returns the head of the list at key.
	// ok is false when the list is empty or missing.
	Pop(ctx context.Context, key string) (value string, ok bool, err error)

	// Index returns the element at position i without removing it. The head is 0.
	// ok is false when i is out of range.
	Index(ctx context.Context, key string, i int) (value string, ok bool, err error)

	// Len returns the length of the list at key. Missing lists have length 0.
	Len(ctx context.Context, key string) (int, error)

	// Range returns every element of the list at key, head first.
	Range(ctx context.Context, key string) ([]string, error)

	// RemoveFirst removes the first element equal to value.
	// Returns the number of removed elements (0 or 1).
	RemoveFirst(ctx context.Context, key, value string) (int, error)

	// Get returns the string stored at key. ok is false when the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// TTL returns the remaining time to live of key, or 0 if it has no expiry.
	// Returns ErrKeyNotFound if the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys returns every string key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// AcquireLock obtains the named mutual-exclusion lock, waiting at most timeout.
	// The lock expires on its own after timeout so a crashed holder cannot
	// block other processes forever.
	// Returns an error wrapping synthbuffer.ErrLockTimeout if the wait elapses.
	AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error)
}

// Lock is a held named lock.
type Lock interface {
	// Release gives up the lock. Returns ErrLockNotHeld if the lock already
	// expired or was released; calling it twice is safe.
	Release(ctx context.Context) error
}
