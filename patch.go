// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/k2io/lochook/internal/vm"
)

// patch writes b, 8 or 16 bytes, over the code at addr. The first 8 bytes
// are replaced by a single store so that a thread entering the function
// runs either the old or the new jump.
func (e *Engine) patch(addr uintptr, b []byte) error {
	restore, err := vm.Protect(addr, uintptr(len(b)))
	if err != nil {
		return err
	}
	if len(b) > 8 {
		copy(vm.Bytes(addr+8, uintptr(len(b)-8)), b[8:])
	}
	storeWord(addr, b[:8])
	vm.FlushInstructionCache(addr, uintptr(len(b)))
	if err := restore(); err != nil {
		e.log().Error(err)
	}
	return nil
}

// storeWord writes the 8 bytes of b at addr. An aligned address takes one
// atomic store. Otherwise the two aligned words overlapping the patch are
// merged with compare-and-swap, the word holding the opcode last, so that a
// change confined to one word is still seen whole.
func storeWord(addr uintptr, b []byte) {
	off := int(addr % 8)
	if off == 0 {
		atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), binary.LittleEndian.Uint64(b))
		return
	}
	lo := addr - uintptr(off)
	mergeWord(lo+8, 0, b[8-off:])
	mergeWord(lo, off, b[:8-off])
}

// mergeWord replaces the bytes of the aligned word at addr from offset at
// with b, keeping the others.
func mergeWord(addr uintptr, at int, b []byte) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], old)
		copy(w[at:], b)
		if atomic.CompareAndSwapUint64(p, old, binary.LittleEndian.Uint64(w[:])) {
			return
		}
	}
}
