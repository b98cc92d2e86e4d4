// Copyright (C) 2022 K2 Cyber Security Inc.

// Package arch holds the addressing-mode strategies of the hooking engine:
// how many bytes the entry point jump overwrites, how the relocated code
// jumps back and whether the hook page must be allocated near the target.
package arch

import (
	"encoding/binary"
	"math"

	"github.com/k2io/lochook/internal/status"
)

// Mode is one addressing strategy.
type Mode interface {
	// Name is the configuration name of the mode.
	Name() string
	// Bits is the decoder mode, 32 or 64.
	Bits() int
	// PatchSize is the number of bytes the entry jump occupies.
	PatchSize() int
	// BackupSize is the number of original bytes saved and atomically
	// restored on removal. It is always >= PatchSize.
	BackupSize() int
	// NearAllocation reports whether the hook page must be reachable from
	// the entry point with a 32-bit displacement.
	NearAllocation() bool
	// EntryJump encodes the jump written at the entry point `from` toward
	// the stub at `to`.
	EntryJump(from, to uintptr) ([]byte, error)
	// ReturnJump encodes the jump from the end of the relocated code at
	// `from` back into the original function at `to`.
	ReturnJump(from, to uintptr) ([]byte, error)
	// ReturnJumpSize is the length of any ReturnJump.
	ReturnJumpSize() int
}

const (
	rel32JumpSize = 5
	r11JumpSize   = 13
)

type relative32 struct{}

type absolute64User struct{}

type absolute64Kernel struct{}

var (
	// Relative32 is the 32-bit mode: 5 byte relative jumps both ways.
	Relative32 Mode = relative32{}
	// Absolute64User is the 64-bit user mode: a 5 byte relative jump at
	// the entry point toward a page allocated within +-2GB and an absolute
	// jump back.
	Absolute64User Mode = absolute64User{}
	// Absolute64Kernel is the 64-bit mode without near allocation: an
	// absolute 13 byte jumper at the entry point.
	Absolute64Kernel Mode = absolute64Kernel{}
)

func (relative32) Name() string         { return "relative32" }
func (relative32) Bits() int            { return 32 }
func (relative32) PatchSize() int       { return rel32JumpSize }
func (relative32) BackupSize() int      { return 8 }
func (relative32) NearAllocation() bool { return false }
func (relative32) ReturnJumpSize() int  { return rel32JumpSize }

func (relative32) EntryJump(from, to uintptr) ([]byte, error) {
	return RelativeJump(from, to)
}

func (relative32) ReturnJump(from, to uintptr) ([]byte, error) {
	return RelativeJump(from, to)
}

func (absolute64User) Name() string         { return "near64" }
func (absolute64User) Bits() int            { return 64 }
func (absolute64User) PatchSize() int       { return rel32JumpSize }
func (absolute64User) BackupSize() int      { return 8 }
func (absolute64User) NearAllocation() bool { return true }
func (absolute64User) ReturnJumpSize() int  { return r11JumpSize }

func (absolute64User) EntryJump(from, to uintptr) ([]byte, error) {
	return RelativeJump(from, to)
}

func (absolute64User) ReturnJump(_, to uintptr) ([]byte, error) {
	return AbsoluteJump(64, to), nil
}

func (absolute64Kernel) Name() string         { return "absolute64" }
func (absolute64Kernel) Bits() int            { return 64 }
func (absolute64Kernel) PatchSize() int       { return r11JumpSize }
func (absolute64Kernel) BackupSize() int      { return 16 }
func (absolute64Kernel) NearAllocation() bool { return false }
func (absolute64Kernel) ReturnJumpSize() int  { return r11JumpSize }

func (absolute64Kernel) EntryJump(_, to uintptr) ([]byte, error) {
	return AbsoluteJump(64, to), nil
}

func (absolute64Kernel) ReturnJump(_, to uintptr) ([]byte, error) {
	return AbsoluteJump(64, to), nil
}

// ForArch returns the default mode of goarch, or nil when it is not x86.
func ForArch(goarch string) Mode {
	switch goarch {
	case "amd64":
		return Absolute64User
	case "386":
		return Relative32
	}
	return nil
}

// Parse maps a configured addressing name to the mode to use on goarch.
// "auto" and "relative32" select the near jumper of the architecture.
// "near64" and "absolute64" only exist on amd64: the near jumper with an
// absolute return, and the 13 byte absolute jumper.
func Parse(name, goarch string) (Mode, error) {
	native := ForArch(goarch)
	if native == nil {
		return nil, status.Throwf(status.NotSupported, "architecture %s is not supported", goarch)
	}
	switch name {
	case "", "auto", "relative32":
		return native, nil
	case "near64":
		if native.Bits() != 64 {
			return nil, status.Throw(status.NotSupported, "near64 addressing requires a 64-bit process")
		}
		return Absolute64User, nil
	case "absolute64":
		if native.Bits() != 64 {
			return nil, status.Throw(status.NotSupported, "absolute64 addressing requires a 64-bit process")
		}
		return Absolute64Kernel, nil
	}
	return nil, status.Throwf(status.InvalidParameter, "unknown addressing mode %q", name)
}

// OverflowsS32 reports whether the distance between v1 and v2 does not fit
// a signed 32-bit displacement.
func OverflowsS32(v1, v2 uintptr) bool {
	if uint64(^uintptr(0)) == math.MaxUint32 {
		// 32-bit displacements wrap around the whole address space.
		return false
	}
	diff := int64(v2 - v1)
	return diff != int64(int32(diff))
}

// RelativeJump encodes `JMP rel32` located at `from` toward `to`.
func RelativeJump(from, to uintptr) ([]byte, error) {
	if OverflowsS32(from+rel32JumpSize, to) {
		return nil, status.Throw(status.NotSupported, "jump target out of 32-bit displacement range")
	}
	seq := []byte{0xe9, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(seq[1:], uint32(to-from-rel32JumpSize))
	return seq, nil
}

// AbsoluteJump encodes an absolute register-indirect jump to addr:
// `MOV R11, imm64; JMP R11` for 64 bits, `MOV EAX, imm32; JMP EAX` for 32.
func AbsoluteJump(bits int, addr uintptr) []byte {
	return absolute(bits, addr, 0xe0)
}

// AbsoluteCall is AbsoluteJump with an indirect call instead of a jump.
func AbsoluteCall(bits int, addr uintptr) []byte {
	return absolute(bits, addr, 0xd0)
}

func absolute(bits int, addr uintptr, modrm byte) []byte {
	if bits == 64 {
		a := uint64(addr)
		return []byte{
			0x49, 0xbb, // MOV R11, addr64
			byte(a), byte(a >> 8), // .
			byte(a >> 16), byte(a >> 24), // .
			byte(a >> 32), byte(a >> 40), // .
			byte(a >> 48), byte(a >> 56), // .
			0x41, 0xff, modrm | 3, // CALL/JMP R11
		}
	}
	a := uint32(addr)
	return []byte{
		0xb8, // MOV EAX, addr32
		byte(a), byte(a >> 8), // .
		byte(a >> 16), byte(a >> 24), // .
		0xff, modrm, // CALL/JMP EAX
	}
}
