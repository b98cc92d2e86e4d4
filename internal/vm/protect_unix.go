// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build unix

package vm

import (
	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// PageSize returns the size of a memory page.
func PageSize() uintptr {
	return pageSize
}

// Granularity returns the address alignment of new mappings.
func Granularity() uintptr {
	return pageSize
}

// Protect makes the pages spanning [addr, addr+size) writable and returns
// a function turning them back to read and execute only.
func Protect(addr, size uintptr) (restore func() error, err error) {
	if err := protectPages(addr, size); err != nil {
		return nil, status.Wrap(err, status.AccessDenied, "cannot make code writable")
	}
	return func() error {
		if err := reProtectPages(addr, size); err != nil {
			return status.Wrap(err, status.AccessDenied, "cannot restore code protection")
		}
		return nil
	}, nil
}

// FlushInstructionCache is a no-op: x86 keeps instruction caches coherent
// with data writes.
func FlushInstructionCache(addr, size uintptr) {}

func reProtectPages(addr, size uintptr) error {
	return mprotect(addr, size, unix.PROT_EXEC|unix.PROT_READ)
}

func protectPages(addr, size uintptr) error {
	return mprotect(addr, size, unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
}

func mprotect(addr, size uintptr, prot int) error {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	return unix.Mprotect(Bytes(start, length), prot)
}
