// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build linux

package vm

import (
	"unsafe"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/unix"
)

const (
	// Lowest address mmap hands out with the default vm.mmap_min_addr.
	minUserAddress = uintptr(0x10000)
	maxUserAddress = uintptr(0x7ffffffff000 & uint64(^uintptr(0)))

	protRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

func mmap(hint uintptr, size uintptr, flags int) (uintptr, error) {
	ptr, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), size, protRWX, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|flags)
	if err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

func allocateAnywhere() (*Page, error) {
	size := PageSize()
	addr, err := mmap(0, size, 0)
	if err != nil {
		return nil, status.Wrap(err, status.NoMemory, "cannot allocate hook page")
	}
	return &Page{Addr: addr, Size: size}, nil
}

func allocateNear(near uintptr) (*Page, error) {
	size := PageSize()
	lo, hi := nearBounds(near, minUserAddress, maxUserAddress)
	var page uintptr
	found := searchNear(near, size, lo, hi, func(addr uintptr) bool {
		// Kernels before 4.17 take MAP_FIXED_NOREPLACE as a plain hint.
		got, err := mmap(addr, size, unix.MAP_FIXED_NOREPLACE)
		if err != nil {
			return false
		}
		if !rangeCheck(got, near) {
			_ = unix.MunmapPtr(unsafe.Pointer(got), size)
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
	return unix.MunmapPtr(unsafe.Pointer(p.Addr), p.Size)
}
