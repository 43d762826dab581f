package cachelot

import (
	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"
)

// Kind classifies a protocol-level failure so callers (and logging) can
// tell "the client sent garbage" apart from "we broke" without parsing
// error strings.
type Kind int

const (
	// KindClientError means the input itself was malformed: an unknown
	// command, a bad data chunk, a value too large.
	KindClientError Kind = iota
	// KindServerError means the request was fine but something on our
	// side failed to honor it: out of memory, an internal invariant
	// tripped.
	KindServerError
)

// ProtocolError is a Kind-tagged error that carries a stack (via
// stackerr) for server errors worth investigating, and a short,
// client-facing Message distinct from the full wrapped error.
type ProtocolError struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *ProtocolError) Error() string { return e.Message }
func (e *ProtocolError) Cause() error  { return e.cause }

// Underlying lets internal/util.Unwrap peel a ProtocolError down to
// whatever server-side failure caused it, for logging.
func (e *ProtocolError) Underlying() error { return e.cause }

func newClientError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Kind:    KindClientError,
		Message: errors.Errorf(format, args...).Error(),
	}
}

func newServerError(cause error, context string) *ProtocolError {
	wrapped := stackerr.Wrap(errors.Wrap(cause, context))
	return &ProtocolError{
		Kind:    KindServerError,
		Message: context,
		cause:   wrapped,
	}
}
