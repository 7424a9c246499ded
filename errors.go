package synthbuffer

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indicates a shared store operation failed.
	// Queue and counter primitives never retry; retry policy belongs to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrFatal indicates a failure that makes further production pointless,
	// such as an authentication or permission error from the generation service.
	// It propagates out of the worker pool.
	ErrFatal = errors.New("fatal generation error")

	// ErrDuplicateVariant indicates a variant task exhausted its attempts
	// without producing a candidate distinct enough from the base artifact.
	ErrDuplicateVariant = errors.New("duplicate variant")

	// ErrLockTimeout indicates a named lock could not be obtained within its bounded wait.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrArtifactNotFound indicates no record exists for the requested artifact ID.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrNilArtifact indicates an operation was given no artifact.
	ErrNilArtifact = errors.New("artifact is required")
)

// Fatal marks err as fatal. A nil err yields nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err was marked fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Unavailable wraps a store error with ErrStoreUnavailable and the failing operation.
// Errors already classified as unavailable are only annotated.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
