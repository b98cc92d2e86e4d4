// Copyright (C) 2022 K2 Cyber Security Inc.

package vm

import (
	"sync"
	"unsafe"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo         = modkernel32.NewProc("GetSystemInfo")
	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
)

type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

var (
	sysInfoOnce sync.Once
	sysInfo     systemInfo
)

func getSystemInfo() *systemInfo {
	sysInfoOnce.Do(func() {
		_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&sysInfo)))
		if sysInfo.PageSize == 0 {
			sysInfo.PageSize = uint32(windows.Getpagesize())
		}
		if sysInfo.AllocationGranularity == 0 {
			sysInfo.AllocationGranularity = 0x10000
		}
	})
	return &sysInfo
}

// PageSize returns the size of a memory page.
func PageSize() uintptr {
	return uintptr(getSystemInfo().PageSize)
}

// Granularity returns the address alignment of new allocations.
func Granularity() uintptr {
	return uintptr(getSystemInfo().AllocationGranularity)
}

func virtualAlloc(addr, size uintptr) (uintptr, error) {
	return windows.VirtualAlloc(addr, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
}

func allocateAnywhere() (*Page, error) {
	size := PageSize()
	addr, err := virtualAlloc(0, size)
	if err != nil {
		return nil, status.Wrap(err, status.NoMemory, "cannot allocate hook page")
	}
	return &Page{Addr: addr, Size: size}, nil
}

func allocateNear(near uintptr) (*Page, error) {
	info := getSystemInfo()
	size := PageSize()
	lo, hi := nearBounds(near, info.MinimumApplicationAddress, info.MaximumApplicationAddress)
	var page uintptr
	// VirtualAlloc rounds reservations down to the allocation granularity,
	// probing finer steps only repeats the same candidates.
	found := searchNear(near, Granularity(), lo, hi, func(addr uintptr) bool {
		got, err := virtualAlloc(addr, size)
		if err != nil {
			return false
		}
		page = got
		return true
	})
	if !found {
		return nil, status.Throwf(status.NoMemory, "no free page within 2GB of %#x", near)
	}
	return &Page{Addr: page, Size: size}, nil
}

func free(p *Page) error {
	return windows.VirtualFree(p.Addr, 0, windows.MEM_RELEASE)
}
