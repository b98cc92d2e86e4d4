// Copyright (C) 2022 K2 Cyber Security Inc.

// Package disasm measures and prints x86/x64 machine code on top of x86asm.
package disasm

import (
	"fmt"
	"strings"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/arch/x86/x86asm"
)

// MaxInstructionLength is the architectural upper bound of one instruction.
const MaxInstructionLength = 15

// Decode decodes the single instruction at the start of code in the given
// mode (32 or 64).
func Decode(code []byte, bits int) (x86asm.Inst, error) {
	inst, err := x86asm.Decode(code, bits)
	if err != nil {
		return inst, status.Wrap(err, status.InvalidParameter, "undecodable machine code")
	}
	// x86asm reports truncated or unknown encodings as a 1 byte prefix
	// without an opcode.
	if inst.Len <= 0 || inst.Op == 0 {
		return inst, status.Throw(status.InvalidParameter, "undecodable machine code")
	}
	return inst, nil
}

// Length returns the length in bytes of the instruction at the start of code.
func Length(code []byte, bits int) (int, error) {
	inst, err := Decode(code, bits)
	if err != nil {
		return 0, err
	}
	return inst.Len, nil
}

// RoundToNextInstruction returns the smallest length >= minSize that ends on
// an instruction boundary of code.
func RoundToNextInstruction(code []byte, bits, minSize int) (int, error) {
	length := 0
	for length < minSize {
		if length >= len(code) {
			return 0, status.Throw(status.InvalidParameter, "code ends inside the requested prologue")
		}
		n, err := Length(code[length:], bits)
		if err != nil {
			return 0, err
		}
		length += n
	}
	return length, nil
}

// Text renders the instructions of code as Intel syntax, one per line,
// prefixed by their address. Undecodable bytes stop the listing.
func Text(code []byte, pc uint64, bits int) string {
	var b strings.Builder
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, bits)
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			b.WriteString("(bad)\n")
			break
		}
		fmt.Fprintf(&b, "%#x: %s\n", pc, x86asm.IntelSyntax(inst, pc, nil))
		code = code[inst.Len:]
		pc += uint64(inst.Len)
	}
	return b.String()
}
