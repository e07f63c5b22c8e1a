package lsm

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-kv/pkg/record"
)

// Common sentinel errors
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("engine is closed")
)

// Kind classifies a storage failure.
type Kind int

const (
	// KindIO is a filesystem failure on the WAL, a segment or the manifest.
	KindIO Kind = iota
	// KindCodec is a malformed record where a well formed one was required.
	KindCodec
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Error provides structured error information for engine operations.
type Error struct {
	Op    string // Operation that failed (e.g., "get", "flush")
	Kind  Kind
	Key   string // Key involved, if any
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Key, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// newError classifies cause as codec or I/O.
func newError(op string, key []byte, cause error) error {
	kind := KindIO
	if record.IsCodecError(cause) {
		kind = KindCodec
	}
	return &Error{Op: op, Kind: kind, Key: string(key), Cause: cause}
}

// IsNotFound returns true if the error is a miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClosed returns true if the error indicates the engine is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsIO returns true for filesystem failures.
func IsIO(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIO
}

// IsCodec returns true for malformed on-disk records.
func IsCodec(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCodec
}
