package fdpass

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAncillaryData means the message carried no control data at all.
	ErrMissingAncillaryData = errors.New("no control message received")
	// ErrUnexpectedMessageKind means control data arrived but held no descriptor.
	ErrUnexpectedMessageKind = errors.New("unexpected control message")
)

// ProtocolError is a receive that completed at the socket level but did not
// follow the descriptor handoff contract.
type ProtocolError struct {
	Err    error
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(err error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Err: err, Detail: fmt.Sprintf(format, args...)}
}
