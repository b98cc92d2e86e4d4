// Copyright (C) 2022 K2 Cyber Security Inc.

package vm

import (
	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/windows"
)

// Protect makes [addr, addr+size) writable and returns a function putting
// the previous protection back.
func Protect(addr, size uintptr) (restore func() error, err error) {
	var old uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return nil, status.Wrap(err, status.AccessDenied, "cannot make code writable")
	}
	return func() error {
		var ignored uint32
		if err := windows.VirtualProtect(addr, size, old, &ignored); err != nil {
			return status.Wrap(err, status.AccessDenied, "cannot restore code protection")
		}
		return nil
	}, nil
}

// FlushInstructionCache flushes the instruction cache of the current
// process for the given range.
func FlushInstructionCache(addr, size uintptr) {
	_, _, _ = procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
}
