// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build !windows

package module

import "github.com/k2io/lochook/internal/status"

// MaxFrames is the largest number of frames CaptureStack returns.
const MaxFrames = 62

// CaptureStack is only supported on Windows.
func CaptureStack(skip, max int) ([]uintptr, error) {
	return nil, status.Throw(status.NotSupported, "native stack capture is not supported on this platform")
}
