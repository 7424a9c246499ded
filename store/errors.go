package store

import "errors"

var (
	// ErrKeyNotFound indicates the key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrLockNotHeld indicates a lock was released after it expired or was already released.
	ErrLockNotHeld = errors.New("lock not held")
)
