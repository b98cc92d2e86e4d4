// Copyright (C) 2022 K2 Cyber Security Inc.

package stub

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// asm is a byte emitter with forward labels. base is the address the code
// will run at.
type asm struct {
	base   uintptr
	buf    []byte
	labels map[string]int
	refs   []labelRef
	// first encoding error, reported by resolve
	err error
}

// labelRef is a 32-bit field referring to a label, either relative to the
// end of its instruction or absolute.
type labelRef struct {
	label    string
	at       int
	end      int
	absolute bool
}

func newAsm(base uintptr) *asm {
	return &asm{base: base, labels: make(map[string]int)}
}

func (a *asm) emit(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *asm) u32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *asm) label(name string) {
	a.labels[name] = len(a.buf)
}

// rel32 emits a displacement to a label, relative to the end of the
// current instruction which has `trailing` bytes after the displacement.
func (a *asm) rel32(label string, trailing int) {
	a.refs = append(a.refs, labelRef{label: label, at: len(a.buf), end: len(a.buf) + 4 + trailing})
	a.u32(0)
}

// abs32 emits the 32-bit absolute address of a label.
func (a *asm) abs32(label string) {
	a.refs = append(a.refs, labelRef{label: label, at: len(a.buf), absolute: true})
	a.u32(0)
}

// rip emits the RIP-relative displacement of address target for an
// instruction with `trailing` bytes after the displacement.
func (a *asm) rip(target uintptr, trailing int) {
	next := a.base + uintptr(len(a.buf)+4+trailing)
	disp := int64(target - next)
	if disp != int64(int32(disp)) && a.err == nil {
		a.err = errors.Errorf("control block at %#x is out of reach from %#x", target, next)
	}
	a.u32(uint32(int32(disp)))
}

func (a *asm) resolve() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, r := range a.refs {
		off, ok := a.labels[r.label]
		if !ok {
			return nil, errors.Errorf("undefined label %q", r.label)
		}
		var v uint32
		if r.absolute {
			v = uint32(a.base + uintptr(off))
		} else {
			v = uint32(int32(off - r.end))
		}
		binary.LittleEndian.PutUint32(a.buf[r.at:], v)
	}
	return a.buf, nil
}
