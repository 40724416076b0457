package csm

import (
	"errors"
	"fmt"
)

// RetCode classifies the errors returned by the state machine.
type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternal                            // 1: Unexpected internal failure.
	RetCValidation                          // 2: Malformed request, rejected before the log append.
	RetCRecoverable                         // 3: Storage reported a recoverable status.
	RetCUnrecoverable                       // 4: Storage failure, the replica is unhealthy.
	RetCConsistencyViolation                // 5: Log and storage disagree, the replica is unhealthy.
	RetCShutdown                            // 6: The state machine is shutting down.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternal:
		return "Internal"
	case RetCValidation:
		return "Validation"
	case RetCRecoverable:
		return "Recoverable"
	case RetCUnrecoverable:
		return "Unrecoverable"
	case RetCConsistencyViolation:
		return "ConsistencyViolation"
	case RetCShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}

// Error wraps a return code and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches errors with the same code, so errors.Is(err, &Error{Code: RetCValidation}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the RetCode of err, RetCSuccess for nil and RetCInternal for foreign errors.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternal
}

var (
	// ErrUnhealthy is returned by operations that are refused once the replica is unhealthy.
	ErrUnhealthy = &Error{Code: RetCUnrecoverable, Msg: "state machine is unhealthy"}
	// ErrShutdown is returned for work submitted after Close was called.
	ErrShutdown = &Error{Code: RetCShutdown, Msg: "state machine is shut down"}
	// ErrShutdownTimeout is returned by Close when in-flight work did not finish in time.
	ErrShutdownTimeout = &Error{Code: RetCShutdown, Msg: "timed out waiting for in-flight work"}
)
