// Copyright (C) 2022 K2 Cyber Security Inc.

// Package reloc moves the first instructions of a function into a
// trampoline so that they keep their meaning at their new address.
package reloc

import (
	"encoding/binary"

	"github.com/k2io/lochook/internal/arch"
	"github.com/k2io/lochook/internal/disasm"
	"github.com/k2io/lochook/internal/status"
	"golang.org/x/arch/x86/x86asm"
)

// MaxSize bounds the relocated code of any entry point: every instruction
// of a prologue of at most PatchSize+15 bytes expanded to an absolute call,
// plus the jump back.
const MaxSize = 128

// Result is a relocated entry point.
type Result struct {
	// EntrySize is the number of original bytes covered, rounded to an
	// instruction boundary.
	EntrySize int
	// Code is the relocated code including the jump back to
	// entry+EntrySize.
	Code []byte
}

// Relocate relocates at least minSize bytes of the code found at address
// entry (code being a readable view of it) so that it can run at address
// dst, in the given addressing mode.
func Relocate(entry uintptr, code []byte, minSize int, dst uintptr, mode arch.Mode) (Result, error) {
	bits := mode.Bits()
	entrySize, err := disasm.RoundToNextInstruction(code, bits, minSize)
	if err != nil {
		return Result{}, err
	}
	out := make([]byte, 0, MaxSize)
	for off := 0; off < entrySize; {
		inst, err := disasm.Decode(code[off:], bits)
		if err != nil {
			return Result{}, status.Throw(status.InvalidParameter1, "unable to disassemble entry point")
		}
		pc := entry + uintptr(off)
		raw := code[off : off+inst.Len]
		at := dst + uintptr(len(out))

		switch {
		case isConditional(inst.Op):
			return Result{}, status.Throw(status.NotSupported, "hooking conditional jumps is not supported")

		case inst.Op == x86asm.CALL || inst.Op == x86asm.JMP:
			rel, ok := inst.Args[0].(x86asm.Rel)
			if !ok {
				// Indirect branch through a register or memory.
				seq, err := relocateRIP(inst, raw, pc, at)
				if err != nil {
					return Result{}, err
				}
				out = append(out, seq...)
				break
			}
			if inst.Op == x86asm.JMP && inst.Opcode>>24 == 0xe9 && off != 0 {
				return Result{}, status.Throw(status.NotSupported, "hooking far jumps is only supported if they are the first instruction")
			}
			target := pc + uintptr(inst.Len) + uintptr(int64(rel))
			if target >= entry && target < entry+uintptr(entrySize) {
				return Result{}, status.Throw(status.NotSupported, "hooking jumps into the hooked entry point is not supported")
			}
			if inst.Op == x86asm.CALL {
				out = append(out, arch.AbsoluteCall(bits, target)...)
			} else {
				out = append(out, arch.AbsoluteJump(bits, target)...)
			}

		case hasRel(inst):
			return Result{}, status.Throwf(status.NotSupported, "relative branch %s cannot be relocated", inst.Op)

		default:
			seq, err := relocateRIP(inst, raw, pc, at)
			if err != nil {
				return Result{}, err
			}
			out = append(out, seq...)
		}
		off += inst.Len
	}

	if len(out)+mode.ReturnJumpSize() > MaxSize {
		return Result{}, status.Throwf(status.BufferTooSmall, "relocated entry point needs %d bytes, at most %d fit", len(out)+mode.ReturnJumpSize(), MaxSize)
	}
	back, err := mode.ReturnJump(dst+uintptr(len(out)), entry+uintptr(entrySize))
	if err != nil {
		return Result{}, err
	}
	out = append(out, back...)
	return Result{EntrySize: entrySize, Code: out}, nil
}

func isConditional(op x86asm.Op) bool {
	switch op {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ,
		x86asm.JE, x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL,
		x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS,
		x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

func hasRel(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if _, ok := a.(x86asm.Rel); ok {
			return true
		}
	}
	return false
}

func ripOperand(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok && mem.Base == x86asm.RIP {
			return mem, true
		}
	}
	return x86asm.Mem{}, false
}

// relocateRIP returns a copy of the instruction raw, moved from address
// `from` to address `to`, with its RIP-relative displacement corrected. The
// displacement is located by searching its 32-bit encoding in the
// instruction bytes, which must match exactly once.
func relocateRIP(inst x86asm.Inst, raw []byte, from, to uintptr) ([]byte, error) {
	seq := make([]byte, len(raw))
	copy(seq, raw)
	mem, ok := ripOperand(inst)
	if !ok {
		return seq, nil
	}
	// x86asm zero-extends disp32
	disp := int32(uint32(mem.Disp))
	pos := -1
	for i := 1; i+4 <= len(raw); i++ {
		if int32(binary.LittleEndian.Uint32(raw[i:])) != disp {
			continue
		}
		if pos >= 0 {
			pos = -1
			break
		}
		pos = i
	}
	if pos < 0 {
		return nil, status.Throw(status.InternalError, "the entry point contains a RIP-relative instruction whose displacement cannot be located")
	}
	delta := int64(to) - int64(from)
	corrected := int64(disp) - delta
	if corrected != int64(int32(corrected)) {
		return nil, status.Throw(status.NotSupported, "the entry point contains a RIP-relative instruction that could not be relocated")
	}
	binary.LittleEndian.PutUint32(seq[pos:], uint32(int32(corrected)))
	return seq, nil
}
