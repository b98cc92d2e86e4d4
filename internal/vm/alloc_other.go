// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build unix && !linux

package vm

import (
	"unsafe"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/unix"
)

func allocateAnywhere() (*Page, error) {
	size := PageSize()
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, status.Wrap(err, status.NoMemory, "cannot allocate hook page")
	}
	return &Page{Addr: uintptr(unsafe.Pointer(&b[0])), Size: size}, nil
}

// allocateNear has no address hint on these systems; the page is kept only
// when it happens to fall within range.
func allocateNear(near uintptr) (*Page, error) {
	p, err := allocateAnywhere()
	if err != nil {
		return nil, err
	}
	if !rangeCheck(p.Addr, near) {
		_ = free(p)
		return nil, status.Throwf(status.NoMemory, "no free page within 2GB of %#x", near)
	}
	return p, nil
}

func free(p *Page) error {
	return unix.Munmap(p.Bytes())
}
