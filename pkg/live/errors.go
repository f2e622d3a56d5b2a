package live

import "fmt"

// ErrorKind classifies session failures.
type ErrorKind string

const (
	ErrCaptureUnavailable ErrorKind = "capture_unavailable"
	ErrConnectionFailed   ErrorKind = "connection_failed"
	ErrSilenceDetected    ErrorKind = "silence_detected"
	ErrProtocol           ErrorKind = "protocol_error"
)

// Error is the session error type. Kind is stable for programmatic handling;
// Message is human-readable.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a session Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newCaptureError(err error) *Error {
	return &Error{Kind: ErrCaptureUnavailable, Message: "microphone could not be opened", Err: err}
}

func newConnectionError(err error) *Error {
	return &Error{Kind: ErrConnectionFailed, Message: "relay connection failed", Err: err}
}

func newSilenceError() *Error {
	return &Error{Kind: ErrSilenceDetected, Message: "no speech detected in recording"}
}

func newProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrProtocol, Message: message, Err: err}
}
