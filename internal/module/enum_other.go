// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build !linux && !windows

package module

import "github.com/k2io/lochook/internal/status"

func enum() ([]Module, error) {
	return nil, status.Throw(status.NotSupported, "module enumeration is not supported on this platform")
}
