// Copyright (C) 2022 K2 Cyber Security Inc.

package barrier

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll = windows.NewLazySystemDLL("ntdll.dll")

	procRtlIsCriticalSectionLockedByThread = modntdll.NewProc("RtlIsCriticalSectionLockedByThread")
)

// offset of PEB.LoaderLock
var loaderLockOffset = func() uintptr {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return 0x110
	}
	return 0xa0
}()

// ThreadID returns the id of the calling OS thread.
func ThreadID() uint32 {
	return windows.GetCurrentThreadId()
}

// ProcessID returns the id of the current process.
func ProcessID() uint32 {
	return windows.GetCurrentProcessId()
}

// LoaderLock reports whether the calling thread owns the loader lock. It
// also reports true when the lock cannot be inspected.
func LoaderLock() bool {
	if procRtlIsCriticalSectionLockedByThread.Find() != nil {
		return true
	}
	peb := windows.RtlGetCurrentPeb()
	if peb == nil {
		return true
	}
	lock := *(*uintptr)(unsafe.Add(unsafe.Pointer(peb), loaderLockOffset))
	if lock == 0 {
		return true
	}
	r, _, _ := procRtlIsCriticalSectionLockedByThread.Call(lock)
	return r != 0
}
