package diskcache

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use [errors.Is] to test for these; a returned error
// is always wrapped in an [*Error] carrying the operation and key.
var (
	// ErrIllegalArgument indicates a key failed validation or a
	// construction parameter was out of range.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrIllegalState indicates an operation was attempted against an
	// object that forbids it in its current state (a closed cache, a
	// finished editor, a closed snapshot, a commit missing a required slot).
	ErrIllegalState = errors.New("illegal state")

	// ErrIO indicates an underlying filesystem failure.
	ErrIO = errors.New("io error")

	// ErrClosed indicates an operation was attempted on a closed [Cache].
	// Wraps [ErrIllegalState].
	ErrClosed = fmt.Errorf("cache is closed: %w", ErrIllegalState)
)

// Error is the uniform error type returned by every public diskcache
// operation that fails eagerly (key validation, construction, journal
// durability failures). It is never returned for a plain cache miss — those
// surface as a nil [*Snapshot]/[*Editor] with a nil error, per §7 of the
// cache's error handling design.
//
// Use [errors.Is] against the sentinels in this package, or [errors.As] to
// recover the failing key and operation name:
//
//	var dcErr *diskcache.Error
//	if errors.As(err, &dcErr) {
//	    log.Printf("operation %s failed for key %s: %v", dcErr.Op, dcErr.Key, dcErr.Err)
//	}
type Error struct {
	// Op names the failing operation, e.g. "Get", "Edit", "Commit".
	Op string

	// Key is the cache key involved, empty if the error isn't key-specific
	// (e.g. a construction-parameter error).
	Key string

	// Err is the underlying cause; usually one of this package's sentinels,
	// sometimes wrapping an *os.PathError from the filesystem layer.
	Err error
}

// Error formats as "<op>: <cause> (key=<key>)", omitting the key suffix
// when Key is empty.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op + ": " + e.causeMessage()

	if e.Key == "" {
		return msg
	}

	return fmt.Sprintf("%s (key=%s)", msg, e.Key)
}

func (e *Error) causeMessage() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

// Unwrap supports [errors.Is] and [errors.As] against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// wrap builds an [*Error] for op/key around err. Returns nil if err is nil.
func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Key: key, Err: err}
}
