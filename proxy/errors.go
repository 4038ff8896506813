package proxy

import "errors"

var (
	// ErrInvalidRequest is matched by every ParseError and ProtocolError.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotConnected indicates that a read was requested while no backend session is active.
	ErrNotConnected = errors.New("not connected")
)

// ParseError reports a request line that is not a JSON object with a known "type".
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidRequest, e.Err}
}

// ProtocolError reports a well-formed request whose fields have the wrong shape.
type ProtocolError struct {
	Field  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: field \"" + e.Field + "\" " + e.Reason
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrInvalidRequest
}
