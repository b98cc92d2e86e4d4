// Copyright (C) 2022 K2 Cyber Security Inc.

// Package status defines the NTSTATUS-style codes returned by every public
// operation of the hooking engine together with the process-wide last error
// state.
package status

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"
)

// Status is an NTSTATUS-compatible code. Zero is success.
type Status uint32

const (
	Success               Status = 0x00000000
	Timeout               Status = 0x00000102
	BufferOverflow        Status = 0x80000005
	NotImplemented        Status = 0xC0000002
	InfoLengthMismatch    Status = 0xC0000004
	InvalidParameter      Status = 0xC000000D
	NoMemory              Status = 0xC0000017
	AccessDenied          Status = 0xC0000022
	BufferTooSmall        Status = 0xC0000023
	ProcedureNotFound     Status = 0xC000007A
	InsufficientResources Status = 0xC000009A
	NotSupported          Status = 0xC00000BB
	InternalError         Status = 0xC00000E5
	InvalidParameter1     Status = 0xC00000EF
	InvalidParameter2     Status = 0xC00000F0
	InvalidParameter3     Status = 0xC00000F1
	InvalidParameter4     Status = 0xC00000F2
	InvalidParameter5     Status = 0xC00000F3
	InvalidParameter6     Status = 0xC00000F4
	InvalidParameter7     Status = 0xC00000F5
	InvalidParameter8     Status = 0xC00000F6
	DllInitFailed         Status = 0xC0000142
	UnhandledException    Status = 0xC0000144
	NotFound              Status = 0xC0000225
	NoInterface           Status = 0xC00002B9
	AlreadyRegistered     Status = 0xC0000718
	WowAssertion          Status = 0xC0009898
)

var names = map[Status]string{
	Success:               "STATUS_SUCCESS",
	Timeout:               "STATUS_TIMEOUT",
	BufferOverflow:        "STATUS_BUFFER_OVERFLOW",
	NotImplemented:        "STATUS_NOT_IMPLEMENTED",
	InfoLengthMismatch:    "STATUS_INFO_LENGTH_MISMATCH",
	InvalidParameter:      "STATUS_INVALID_PARAMETER",
	NoMemory:              "STATUS_NO_MEMORY",
	AccessDenied:          "STATUS_ACCESS_DENIED",
	BufferTooSmall:        "STATUS_BUFFER_TOO_SMALL",
	ProcedureNotFound:     "STATUS_PROCEDURE_NOT_FOUND",
	InsufficientResources: "STATUS_INSUFFICIENT_RESOURCES",
	NotSupported:          "STATUS_NOT_SUPPORTED",
	InternalError:         "STATUS_INTERNAL_ERROR",
	InvalidParameter1:     "STATUS_INVALID_PARAMETER_1",
	InvalidParameter2:     "STATUS_INVALID_PARAMETER_2",
	InvalidParameter3:     "STATUS_INVALID_PARAMETER_3",
	InvalidParameter4:     "STATUS_INVALID_PARAMETER_4",
	InvalidParameter5:     "STATUS_INVALID_PARAMETER_5",
	InvalidParameter6:     "STATUS_INVALID_PARAMETER_6",
	InvalidParameter7:     "STATUS_INVALID_PARAMETER_7",
	InvalidParameter8:     "STATUS_INVALID_PARAMETER_8",
	DllInitFailed:         "STATUS_DLL_INIT_FAILED",
	UnhandledException:    "STATUS_UNHANDLED_EXCEPTION",
	NotFound:              "STATUS_NOT_FOUND",
	NoInterface:           "STATUS_NOINTERFACE",
	AlreadyRegistered:     "STATUS_ALREADY_REGISTERED",
	WowAssertion:          "STATUS_WOW_ASSERTION",
}

// String returns the symbolic NTSTATUS name, or "UNKNOWN".
func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "UNKNOWN"
}

func (s Status) Error() string {
	return fmt.Sprintf("%s (0x%08X)", s.String(), uint32(s))
}

// InvalidParameterN returns the code identifying the n-th (1-based) invalid
// argument. Out of range values map to the generic InvalidParameter.
func InvalidParameterN(n int) Status {
	if n < 1 || n > 8 {
		return InvalidParameter
	}
	return InvalidParameter1 + Status(n-1)
}

// Static assertion that `Status` implements interface `error`
var _ error = Status(0)

type causer interface {
	Cause() error
}

// Code returns the status carried by err. A nil error is Success, an error
// without any status in its chain is InternalError.
func Code(err error) Status {
	if err == nil {
		return Success
	}
	for {
		if s, ok := err.(Status); ok {
			return s
		}
		switch actual := err.(type) {
		case causer:
			err = actual.Cause()
		case xerrors.Wrapper:
			err = actual.Unwrap()
		default:
			return InternalError
		}
		if err == nil {
			return InternalError
		}
	}
}

var last struct {
	sync.Mutex
	code    Status
	message string
}

func setLast(code Status, message string) {
	last.Lock()
	last.code = code
	last.message = message
	last.Unlock()
}

// Throw records code and message as the last error and returns an error
// carrying both, annotated with a stack trace.
func Throw(code Status, message string) error {
	setLast(code, message)
	return errors.WithMessage(errors.WithStack(code), message)
}

// Throwf is Throw with a formatted message.
func Throwf(code Status, format string, args ...interface{}) error {
	return Throw(code, fmt.Sprintf(format, args...))
}

// Wrap annotates an underlying OS or library failure with a status code and
// a message. The returned error reports code through Code() while keeping
// the original failure in its message.
func Wrap(err error, code Status, message string) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s: %v", message, err)
	setLast(code, msg)
	return errors.WithMessage(errors.WithStack(code), msg)
}

// Propagate records err as the last error without changing it. It is used
// when an internal failure crosses the public boundary unchanged.
func Propagate(err error) error {
	if err == nil {
		Clear()
		return nil
	}
	setLast(Code(err), err.Error())
	return err
}

// Clear resets the last error to Success, as every successful public
// operation does.
func Clear() {
	setLast(Success, "")
}

// Last returns the most recent error code recorded process-wide.
func Last() Status {
	last.Lock()
	defer last.Unlock()
	return last.code
}

// LastString returns the message of the most recent error recorded
// process-wide.
func LastString() string {
	last.Lock()
	defer last.Unlock()
	return last.message
}
