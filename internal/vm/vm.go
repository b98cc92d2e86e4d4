// Copyright (C) 2022 K2 Cyber Security Inc.

// Package vm allocates executable hook pages and changes the protection of
// code pages.
package vm

import (
	"unsafe"

	"github.com/k2io/lochook/internal/status"
)

// NearRange is the distance around an entry point within which a near hook
// page must lie so that a 32-bit relative jump reaches it.
const NearRange = 0x7FFFFF00

// Page is one readable, writable and executable hook page.
type Page struct {
	Addr uintptr
	Size uintptr
}

// Bytes returns the page contents as a slice.
func (p *Page) Bytes() []byte {
	return Bytes(p.Addr, p.Size)
}

// Bytes returns a slice aliasing size bytes of memory at addr.
func Bytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// Allocate returns a new hook page. When near is not zero, the page lies
// within NearRange of it; StatusNoMemory is returned when no such page can
// be obtained. A zero near allocates anywhere.
func Allocate(near uintptr) (*Page, error) {
	if near == 0 {
		return allocateAnywhere()
	}
	return allocateNear(near)
}

// Free releases a page obtained from Allocate.
func Free(p *Page) error {
	if p == nil || p.Addr == 0 {
		return nil
	}
	if err := free(p); err != nil {
		return status.Wrap(err, status.InternalError, "cannot release hook page")
	}
	p.Addr = 0
	return nil
}

// nearBounds returns the window of candidate page addresses around near,
// clamped to [min, max].
func nearBounds(near, min, max uintptr) (lo, hi uintptr) {
	lo, hi = min, max
	if near > NearRange && near-NearRange > lo {
		lo = near - NearRange
	}
	if near+NearRange > near && near+NearRange < hi {
		hi = near + NearRange
	}
	return lo, hi
}

// searchNear calls try on step aligned addresses alternating above then
// below near, moving away from it, until try succeeds or both directions
// left [lo, hi].
func searchNear(near, step, lo, hi uintptr, try func(addr uintptr) bool) bool {
	base := near &^ (step - 1)
	for index := uintptr(0); ; index += step {
		up := base + index
		down := base - index
		upOK := index <= ^uintptr(0)-base && up+step <= hi
		downOK := index <= base && down >= lo
		if !upOK && !downOK {
			return false
		}
		if upOK && try(up) {
			return true
		}
		if index != 0 && downOK && try(down) {
			return true
		}
	}
}

func rangeCheck(addr, near uintptr) bool {
	if addr >= near {
		return addr-near <= NearRange
	}
	return near-addr <= NearRange
}
