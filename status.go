// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import "github.com/k2io/lochook/internal/status"

// Status is the NTSTATUS-style code carried by every error returned by this
// package. Use Code to extract it.
type Status = status.Status

// Status codes.
const (
	StatusSuccess               = status.Success
	StatusTimeout               = status.Timeout
	StatusBufferOverflow        = status.BufferOverflow
	StatusNotImplemented        = status.NotImplemented
	StatusInfoLengthMismatch    = status.InfoLengthMismatch
	StatusInvalidParameter      = status.InvalidParameter
	StatusNoMemory              = status.NoMemory
	StatusAccessDenied          = status.AccessDenied
	StatusBufferTooSmall        = status.BufferTooSmall
	StatusProcedureNotFound     = status.ProcedureNotFound
	StatusInsufficientResources = status.InsufficientResources
	StatusNotSupported          = status.NotSupported
	StatusInternalError         = status.InternalError
	StatusInvalidParameter1     = status.InvalidParameter1
	StatusInvalidParameter2     = status.InvalidParameter2
	StatusInvalidParameter3     = status.InvalidParameter3
	StatusInvalidParameter4     = status.InvalidParameter4
	StatusInvalidParameter5     = status.InvalidParameter5
	StatusInvalidParameter6     = status.InvalidParameter6
	StatusInvalidParameter7     = status.InvalidParameter7
	StatusInvalidParameter8     = status.InvalidParameter8
	StatusDllInitFailed         = status.DllInitFailed
	StatusUnhandledException    = status.UnhandledException
	StatusNotFound              = status.NotFound
	StatusNoInterface           = status.NoInterface
	StatusAlreadyRegistered     = status.AlreadyRegistered
	StatusWowAssertion          = status.WowAssertion
)

// Code returns the status carried by err; nil is StatusSuccess.
func Code(err error) Status {
	return status.Code(err)
}

// LastError returns the code of the most recent failure of any operation
// of the process, or StatusSuccess if the latest operation succeeded.
func LastError() Status {
	return status.Last()
}

// LastErrorString returns the message of the most recent failure.
func LastErrorString() string {
	return status.LastString()
}
