package attendance

import (
	"errors"
	"fmt"
)

// Attendance domain errors
var (
	// Check-in errors
	ErrAlreadyCheckedIn     = errors.New("you have already checked in for this shift")
	ErrNoScheduleFound      = errors.New("no schedule found for today")
	ErrNoWorkLocation       = errors.New("no work location assigned")
	ErrOutsideAllowedRadius = errors.New("you are outside the allowed radius")
	ErrOutsideCheckinWindow = errors.New("check-in is not open for this shift")
	ErrInvalidCoordinates   = errors.New("invalid coordinates")

	// Check-out errors
	ErrNotCheckedIn = errors.New("you have not checked in yet")

	// Engine errors
	ErrBusy             = errors.New("another attendance operation is in progress")
	ErrEmployeeRequired = errors.New("token carries no employee_id")
	ErrSessionClosed    = errors.New("attendance session is closed")
	ErrRefreshSkipped   = errors.New("refresh skipped while an operation is in flight")
	ErrMalformedShift   = errors.New("malformed shift definition")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrUpstreamResponse = errors.New("unexpected upstream response")
)

// Failure codes reported by the upstream attendance API.
const (
	CodeAlreadyCheckedIn   = "ALREADY_CHECKED_IN"
	CodeHasUnclosedSession = "HAS_UNCLOSED_SESSION"
	CodeAlreadyCheckedOut  = "ALREADY_CHECKED_OUT"
	CodeNotCheckedIn       = "NOT_CHECKED_IN"
	CodeCheckoutNotAllowed = "CHECKOUT_NOT_ALLOWED"
)

// softCodes report a real existing server state rather than a failure.
var softCodes = map[string]struct{}{
	CodeAlreadyCheckedIn:   {},
	CodeHasUnclosedSession: {},
	CodeAlreadyCheckedOut:  {},
}

// IsSoftCode reports whether code is informational. Unknown codes are hard.
func IsSoftCode(code string) bool {
	_, ok := softCodes[code]
	return ok
}

// ErrorKind classifies engine failures by how they are recovered.
type ErrorKind string

const (
	// KindValidation is a geofence or window failure; check-in only.
	KindValidation ErrorKind = "validation"
	// KindConflict is a server-reported state the client did not expect;
	// recovered by reconciliation, never rolled back.
	KindConflict ErrorKind = "conflict"
	// KindTransport is a network, timeout or hard server failure;
	// recovered by rollback.
	KindTransport ErrorKind = "transport"
	// KindData is a malformed schedule or record; degrades to no shift.
	KindData ErrorKind = "data"
)

// Error is a classified engine error.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError wraps err as a validation failure.
func NewValidationError(err error) *Error {
	return &Error{Kind: KindValidation, Err: err, Message: err.Error()}
}

// NewTransportError wraps err as a transport failure.
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// NewDataError wraps err as a data failure.
func NewDataError(err error) *Error {
	return &Error{Kind: KindData, Err: err}
}

// NewServerError classifies an upstream failure code.
func NewServerError(code, message string) *Error {
	kind := KindTransport
	if IsSoftCode(code) {
		kind = KindConflict
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: ErrUpstreamResponse}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the upstream failure code carried by err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
