package protocol

import (
	"errors"
	"fmt"
)

// ErrServerClosed is returned by Serve after Close or Shutdown.
var ErrServerClosed = errors.New("protocol: server closed")

// ProtocolError is a malformed or unsupported command. It never reaches the
// engine.
type ProtocolError struct {
	Command string
	Msg     string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

func newProtocolError(command, format string, args ...any) *ProtocolError {
	return &ProtocolError{Command: command, Msg: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
