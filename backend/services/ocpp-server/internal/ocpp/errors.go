package ocpp

import (
	"errors"
	"fmt"
)

// CallError codes used by this gateway.
const (
	ErrorNotSupported       = "NotSupported"
	ErrorNotImplemented     = "NotImplemented"
	ErrorProtocol           = "ProtocolError"
	ErrorFormationViolation = "FormationViolation"
	ErrorInternal           = "InternalError"
)

// ErrMalformedFrame marks frames that cannot be answered because no message id could be read.
var ErrMalformedFrame = errors.New("ocpp: malformed frame")

// Error is a handler failure that is reported to the charge point as a CallError.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ocpp %s: %s", e.Code, e.Description)
}

// NewError builds a CallError-bound error.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// FrameError is a frame whose id was readable but whose shape is invalid; it can be
// answered with a CallError.
type FrameError struct {
	UniqueID string
	Err      *Error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("ocpp frame %s: %s", e.UniqueID, e.Err.Description)
}

func (e *FrameError) Unwrap() error { return e.Err }
