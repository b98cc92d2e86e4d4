// Copyright (C) 2022 K2 Cyber Security Inc.

package stub

// Build returns the trampoline code to be placed at address at, reading its
// state from the control block at address block. bits selects the x86 (32)
// or x64 (64) flavour.
func Build(bits int, block, at uintptr) ([]byte, error) {
	a := newAsm(at)
	if bits == 64 {
		build64(a, block)
	} else {
		build32(a, block)
	}
	return a.resolve()
}

// CodeOffset returns where the relocated entry point starts in a hook page
// whose stub is stubSize bytes long.
func CodeOffset(stubSize int) uintptr {
	return (BlockSize + uintptr(stubSize) + 15) &^ 15
}
