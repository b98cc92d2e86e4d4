// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"unsafe"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/windows"
)

// MaxFrames is the largest number of frames CaptureStack returns.
const MaxFrames = 62

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRtlCaptureStackBackTrace = modkernel32.NewProc("RtlCaptureStackBackTrace")
)

// CaptureStack returns up to max return addresses of the native call stack
// of the calling thread, skipping the innermost skip frames.
func CaptureStack(skip, max int) ([]uintptr, error) {
	if max <= 0 || max > MaxFrames {
		return nil, status.Throwf(status.InvalidParameter2, "frame count must be in [1, %d]", MaxFrames)
	}
	if err := procRtlCaptureStackBackTrace.Find(); err != nil {
		return nil, status.Wrap(err, status.ProcedureNotFound, "cannot capture the stack")
	}
	frames := make([]uintptr, max)
	n, _, _ := procRtlCaptureStackBackTrace.Call(uintptr(skip), uintptr(max), uintptr(unsafe.Pointer(&frames[0])), 0)
	return frames[:uint16(n)], nil
}
