package errors

import (
	"context"
	"errors"
)

// ReturnCode is a DDS standard return code. Every non-OK code is also an
// error so it can travel through wrapping chains and be recovered with Code.
type ReturnCode int32

// DDS return codes.
const (
	RetcodeOK ReturnCode = iota
	RetcodeError
	RetcodeUnsupported
	RetcodeBadParameter
	RetcodePreconditionNotMet
	RetcodeOutOfResources
	RetcodeNotEnabled
	RetcodeImmutablePolicy
	RetcodeInconsistentPolicy
	RetcodeAlreadyDeleted
	RetcodeTimeout
	RetcodeNoData
	RetcodeIllegalOperation
)

// Sentinel errors for each DDS return code. Compare with errors.Is.
var (
	ErrError              error = RetcodeError
	ErrUnsupported        error = RetcodeUnsupported
	ErrBadParameter       error = RetcodeBadParameter
	ErrPreconditionNotMet error = RetcodePreconditionNotMet
	ErrOutOfResources     error = RetcodeOutOfResources
	ErrNotEnabled         error = RetcodeNotEnabled
	ErrImmutablePolicy    error = RetcodeImmutablePolicy
	ErrInconsistentPolicy error = RetcodeInconsistentPolicy
	ErrAlreadyDeleted     error = RetcodeAlreadyDeleted
	ErrTimeout            error = RetcodeTimeout
	ErrNoData             error = RetcodeNoData
	ErrIllegalOperation   error = RetcodeIllegalOperation
)

var retcodeNames = map[ReturnCode]string{
	RetcodeOK:                 "ok",
	RetcodeError:              "error",
	RetcodeUnsupported:        "unsupported",
	RetcodeBadParameter:       "bad parameter",
	RetcodePreconditionNotMet: "precondition not met",
	RetcodeOutOfResources:     "out of resources",
	RetcodeNotEnabled:         "not enabled",
	RetcodeImmutablePolicy:    "immutable policy",
	RetcodeInconsistentPolicy: "inconsistent policy",
	RetcodeAlreadyDeleted:     "already deleted",
	RetcodeTimeout:            "timeout",
	RetcodeNoData:             "no data",
	RetcodeIllegalOperation:   "illegal operation",
}

// Error implements the error interface
func (c ReturnCode) Error() string {
	if name, ok := retcodeNames[c]; ok {
		return name
	}
	return "unknown return code"
}

// String returns the code name
func (c ReturnCode) String() string {
	return c.Error()
}

// Class returns the default handling class of the code.
func (c ReturnCode) Class() ErrorClass {
	switch c {
	case RetcodeTimeout, RetcodeOutOfResources, RetcodeNoData:
		return ErrorTransient
	case RetcodeAlreadyDeleted, RetcodeError:
		return ErrorFatal
	default:
		return ErrorInvalid
	}
}

// Code extracts the DDS return code carried by err. A nil error is OK and
// an error without a code maps to RetcodeError. Context deadline and
// cancellation map to RetcodeTimeout.
func Code(err error) ReturnCode {
	if err == nil {
		return RetcodeOK
	}
	var rc ReturnCode
	if errors.As(err, &rc) {
		return rc
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return RetcodeTimeout
	}
	return RetcodeError
}
