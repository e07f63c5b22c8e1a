package record

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated     = errors.New("record truncated")
	ErrInvalidText   = errors.New("field is not valid UTF-8")
	ErrFieldTooLarge = errors.New("field exceeds 255 bytes")
	ErrTrailingBytes = errors.New("trailing bytes after record")
	ErrEmpty         = errors.New("no record in buffer")
)

// CodecError describes a malformed byte stream or an unencodable record.
type CodecError struct {
	Offset int    // byte offset of the record that failed
	Field  string // "key" or "value", empty when not field specific
	Cause  error
}

func (e *CodecError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("codec: record at offset %d: %s: %v", e.Offset, e.Field, e.Cause)
	}
	return fmt.Sprintf("codec: record at offset %d: %v", e.Offset, e.Cause)
}

func (e *CodecError) Unwrap() error {
	return e.Cause
}

// IsCodecError reports whether err is, or wraps, a *CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
