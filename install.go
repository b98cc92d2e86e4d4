// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"unsafe"

	"github.com/k2io/lochook/internal/barrier"
	"github.com/k2io/lochook/internal/disasm"
	"github.com/k2io/lochook/internal/module"
	"github.com/k2io/lochook/internal/plog"
	"github.com/k2io/lochook/internal/reloc"
	"github.com/k2io/lochook/internal/status"
	"github.com/k2io/lochook/internal/stub"
	"github.com/k2io/lochook/internal/vm"
)

// allocateHook prepares the hook page of entry: control block, stub and
// relocated entry point. The target code is not modified.
func (e *Engine) allocateHook(entry, handler uintptr) (rec *hookRecord, err error) {
	if entry == 0 {
		return nil, status.Throw(status.InvalidParameter1, "invalid entry point")
	}
	if handler == 0 {
		return nil, status.Throw(status.InvalidParameter2, "invalid hook procedure")
	}
	if e.introThunk == 0 || e.outroThunk == 0 {
		return nil, status.Throw(status.NotSupported, "no barrier entry points on this platform")
	}

	var near uintptr
	if e.mode.NearAllocation() {
		near = entry
	}
	page, err := vm.Allocate(near)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = vm.Free(page)
		}
	}()

	readSize := e.mode.BackupSize()
	if n := e.mode.PatchSize() + disasm.MaxInstructionLength; n > readSize {
		readSize = n
	}
	code := vm.Bytes(entry, uintptr(readSize))

	block := page.Addr
	stubCode, err := stub.Build(e.mode.Bits(), block, block+stub.BlockSize)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "cannot build hook stub")
	}
	oldProc := block + stub.CodeOffset(len(stubCode))
	relocated, err := reloc.Relocate(entry, code, e.mode.PatchSize(), oldProc, e.mode)
	if err != nil {
		return nil, err
	}
	if oldProc-block+uintptr(len(relocated.Code)) > page.Size {
		return nil, status.Throw(status.BufferTooSmall, "relocated entry point does not fit in the hook page")
	}

	rec = &hookRecord{
		engine:     e,
		target:     entry,
		handler:    handler,
		page:       page,
		block:      block,
		layout:     e.layout,
		trampoline: block + stub.BlockSize,
		oldProc:    oldProc,
		entrySize:  relocated.EntrySize,
		relocSize:  len(relocated.Code),
		backup:     append([]byte(nil), code[:e.mode.BackupSize()]...),
	}
	cb, err := stub.Pack(e.mode.Bits(), &stub.ControlBlock{
		HookProc: uint64(handler),
		OldProc:  uint64(oldProc),
		Intro:    uint64(e.introThunk),
		Outro:    uint64(e.outroThunk),
		Handle:   uint64(block),
	})
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "cannot pack control block")
	}
	mem := page.Bytes()
	copy(mem, cb)
	copy(mem[stub.BlockSize:], stubCode)
	copy(mem[oldProc-block:], relocated.Code)
	vm.FlushInstructionCache(block, page.Size)

	if e.log().Level() >= plog.Debug {
		e.log().Debugf("allocate: %s, %d bytes relocated to %#x\n%s", module.Describe(entry), rec.entrySize, oldProc,
			disasm.Text(relocated.Code, uint64(oldProc), e.mode.Bits()))
	}
	return rec, nil
}

// Install hooks the function at entry so that calls go to handler, once an
// ACL lets the caller through. The hook starts inert: its local ACL is an
// empty inclusive list. callback is returned by BarrierGetCallback inside
// the handler. h must not be linked to another hook.
func (e *Engine) Install(entry, handler uintptr, callback interface{}, h *Handle) error {
	if h == nil || h.link != nil {
		return invalidHandle(4)
	}
	rec, err := e.allocateHook(entry, handler)
	if err != nil {
		return err
	}
	if err := e.install(rec, callback, h); err != nil {
		_ = vm.Free(rec.page)
		return err
	}
	status.Clear()
	return nil
}

func (e *Engine) install(rec *hookRecord, callback interface{}, h *Handle) error {
	jump, err := e.mode.EntryJump(rec.target, rec.trampoline)
	if err != nil {
		return err
	}
	rec.hookCopy = append(jump, rec.backup[len(jump):]...)

	e.lock.Lock()
	defer e.lock.Unlock()

	if h.link != nil {
		return invalidHandle(4)
	}
	e.nextID++
	ident := e.nextID
	slot := -1
	for i := range e.slots {
		if e.slots[i] == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return status.Throw(status.InsufficientResources, "not enough hook control slots")
	}

	rec.Hook = barrier.Hook{
		Slot:     uint32(slot),
		Ident:    ident,
		Callback: callback,
		ACL:      newLocalACL(),
	}
	*(*uint32)(unsafe.Pointer(rec.block + e.layout.Slot)) = uint32(slot)
	*(*uint32)(unsafe.Pointer(rec.block + e.layout.Ident)) = ident
	e.slots[slot] = ident
	blocks.Store(rec.block, rec)

	if err := e.patch(rec.target, rec.hookCopy); err != nil {
		e.slots[slot] = 0
		blocks.CompareAndDelete(rec.block, rec)
		return err
	}

	e.hooks = append([]*hookRecord{rec}, e.hooks...)
	rec.signature = stub.Signature
	*(*uint32)(unsafe.Pointer(rec.block + e.layout.Signature)) = stub.Signature
	rec.handle = h
	h.link = rec
	e.log().Debugf("install: hook %#x in slot %d at %#x", ident, slot, rec.target)
	return nil
}
