package amiibo

import (
	"errors"
	"fmt"
	"strings"
)

// Result identifies a specific failure kind for programmatic handling.
type Result int

// Controller/state errors (100-199)
const (
	ResultWrongDeviceState Result = iota + 100
	ResultTagRemoved
	ResultNotAnAmiibo
	ResultCorruptedData
	ResultWriteAmiiboFailed
)

// Feature errors (200-299)
const (
	ResultApplicationAreaIsNotInitialized Result = iota + 200
	ResultRegistrationIsNotInitialized
	ResultWrongApplicationAreaId
	ResultWrongApplicationAreaSize
	ResultApplicationAreaExist
)

// String returns the canonical name of the result code.
func (r Result) String() string {
	switch r {
	case ResultWrongDeviceState:
		return "WrongDeviceState"
	case ResultTagRemoved:
		return "TagRemoved"
	case ResultNotAnAmiibo:
		return "NotAnAmiibo"
	case ResultCorruptedData:
		return "CorruptedData"
	case ResultWriteAmiiboFailed:
		return "WriteAmiiboFailed"
	case ResultApplicationAreaIsNotInitialized:
		return "ApplicationAreaIsNotInitialized"
	case ResultRegistrationIsNotInitialized:
		return "RegistrationIsNotInitialized"
	case ResultWrongApplicationAreaId:
		return "WrongApplicationAreaId"
	case ResultWrongApplicationAreaSize:
		return "WrongApplicationAreaSize"
	case ResultApplicationAreaExist:
		return "ApplicationAreaExist"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Error provides structured error information for a failed tag operation.
type Error struct {
	Result  Result
	Op      string // Operation that failed (e.g., "Mount", "SetApplicationArea")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Message != "" {
		sb.WriteString(e.Message)
	} else {
		sb.WriteString(e.Result.String())
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Result == t.Result
	}
	return false
}

func newWrongStateError(op string, state DeviceState) *Error {
	return &Error{
		Result:  ResultWrongDeviceState,
		Op:      op,
		Message: fmt.Sprintf("wrong device state %s", state),
	}
}

func newTagRemovedError(op string) *Error {
	return &Error{
		Result:  ResultTagRemoved,
		Op:      op,
		Message: "tag was removed",
	}
}

// stateError maps an invalid-state condition to the right result: TagRemoved
// when removal is the specific cause, WrongDeviceState otherwise.
func stateError(op string, state DeviceState) *Error {
	if state == StateTagRemoved {
		return newTagRemovedError(op)
	}
	return newWrongStateError(op, state)
}

func newResultError(result Result, op, message string) *Error {
	return &Error{Result: result, Op: op, Message: message}
}

func newWriteFailedError(op string, cause error) *Error {
	return &Error{
		Result:  ResultWriteAmiiboFailed,
		Op:      op,
		Message: "write amiibo failed",
		Cause:   cause,
	}
}

// ResultOf extracts the Result from an error if it is an *Error.
// Returns 0 if the error carries no result code.
func ResultOf(err error) Result {
	var tagErr *Error
	if errors.As(err, &tagErr) {
		return tagErr.Result
	}
	return 0
}

// IsWrongDeviceState reports whether err indicates an operation attempted
// from an invalid lifecycle state.
func IsWrongDeviceState(err error) bool {
	return ResultOf(err) == ResultWrongDeviceState
}

// IsTagRemoved reports whether err indicates the tag was removed.
func IsTagRemoved(err error) bool {
	return ResultOf(err) == ResultTagRemoved
}

// IsCorruptedData reports whether err indicates an authentication failure
// while decoding a tag image.
func IsCorruptedData(err error) bool {
	return ResultOf(err) == ResultCorruptedData
}

// IsNotAnAmiibo reports whether err indicates structural validation failed.
func IsNotAnAmiibo(err error) bool {
	return ResultOf(err) == ResultNotAnAmiibo
}
