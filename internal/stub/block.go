// Copyright (C) 2022 K2 Cyber Security Inc.

// Package stub generates the per-hook trampoline: a fixed-layout control
// block at the start of the hook page followed by machine code entering the
// barrier, dispatching to the handler or to the relocated entry point and
// leaving the barrier when the handler returns.
package stub

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Signature marks a live control block.
const Signature = 0x6A910BE2

// BlockSize is the space reserved for the control block; the stub starts
// right after it.
const BlockSize = 0x40

// ControlBlock is the data shared between the engine and the generated code.
type ControlBlock struct {
	HookProc   uint64
	OldProc    uint64
	Intro      uint64
	Outro      uint64
	IsExecuted uint64
	Handle     uint64
	Slot       uint32
	Ident      uint32
	Signature  uint32
}

type controlBlock64 struct {
	HookProc   uint64
	OldProc    uint64
	Intro      uint64
	Outro      uint64
	IsExecuted uint64
	Handle     uint64
	Slot       uint32
	Ident      uint32
	Signature  uint32
	Pad        []byte `struc:"[4]pad"`
}

type controlBlock32 struct {
	HookProc   uint32
	OldProc    uint32
	Intro      uint32
	Outro      uint32
	IsExecuted uint32
	Handle     uint32
	Slot       uint32
	Ident      uint32
	Signature  uint32
	Pad        []byte `struc:"[28]pad"`
}

// Layout holds the byte offsets of the control block fields.
type Layout struct {
	HookProc   uintptr
	OldProc    uintptr
	Intro      uintptr
	Outro      uintptr
	IsExecuted uintptr
	Handle     uintptr
	Slot       uintptr
	Ident      uintptr
	Signature  uintptr
	// Word is the size of the pointer fields.
	Word uintptr
}

var (
	Layout64 = Layout{
		HookProc:   0x00,
		OldProc:    0x08,
		Intro:      0x10,
		Outro:      0x18,
		IsExecuted: 0x20,
		Handle:     0x28,
		Slot:       0x30,
		Ident:      0x34,
		Signature:  0x38,
		Word:       8,
	}
	Layout32 = Layout{
		HookProc:   0x00,
		OldProc:    0x04,
		Intro:      0x08,
		Outro:      0x0c,
		IsExecuted: 0x10,
		Handle:     0x14,
		Slot:       0x18,
		Ident:      0x1c,
		Signature:  0x20,
		Word:       4,
	}
)

// LayoutFor returns the control block layout of the given decoder mode.
func LayoutFor(bits int) Layout {
	if bits == 64 {
		return Layout64
	}
	return Layout32
}

// Pack serialises cb in the little-endian layout of the given mode. The
// result is always BlockSize bytes long.
func Pack(bits int, cb *ControlBlock) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if bits == 64 {
		err = struc.PackWithOrder(&buf, &controlBlock64{
			HookProc:   cb.HookProc,
			OldProc:    cb.OldProc,
			Intro:      cb.Intro,
			Outro:      cb.Outro,
			IsExecuted: cb.IsExecuted,
			Handle:     cb.Handle,
			Slot:       cb.Slot,
			Ident:      cb.Ident,
			Signature:  cb.Signature,
		}, binary.LittleEndian)
	} else {
		err = struc.PackWithOrder(&buf, &controlBlock32{
			HookProc:   uint32(cb.HookProc),
			OldProc:    uint32(cb.OldProc),
			Intro:      uint32(cb.Intro),
			Outro:      uint32(cb.Outro),
			IsExecuted: uint32(cb.IsExecuted),
			Handle:     uint32(cb.Handle),
			Slot:       cb.Slot,
			Ident:      cb.Ident,
			Signature:  cb.Signature,
		}, binary.LittleEndian)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not pack the control block")
	}
	if buf.Len() != BlockSize {
		return nil, errors.Errorf("packed control block is %d bytes instead of %d", buf.Len(), BlockSize)
	}
	return buf.Bytes(), nil
}

// Unpack is the reverse of Pack.
func Unpack(bits int, b []byte) (*ControlBlock, error) {
	r := bytes.NewReader(b)
	if bits == 64 {
		var cb controlBlock64
		if err := struc.UnpackWithOrder(r, &cb, binary.LittleEndian); err != nil {
			return nil, errors.Wrap(err, "could not unpack the control block")
		}
		return &ControlBlock{
			HookProc:   cb.HookProc,
			OldProc:    cb.OldProc,
			Intro:      cb.Intro,
			Outro:      cb.Outro,
			IsExecuted: cb.IsExecuted,
			Handle:     cb.Handle,
			Slot:       cb.Slot,
			Ident:      cb.Ident,
			Signature:  cb.Signature,
		}, nil
	}
	var cb controlBlock32
	if err := struc.UnpackWithOrder(r, &cb, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "could not unpack the control block")
	}
	return &ControlBlock{
		HookProc:   uint64(cb.HookProc),
		OldProc:    uint64(cb.OldProc),
		Intro:      uint64(cb.Intro),
		Outro:      uint64(cb.Outro),
		IsExecuted: uint64(cb.IsExecuted),
		Handle:     uint64(cb.Handle),
		Slot:       cb.Slot,
		Ident:      cb.Ident,
		Signature:  cb.Signature,
	}, nil
}
