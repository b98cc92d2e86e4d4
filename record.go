// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"sync/atomic"
	"unsafe"

	"github.com/k2io/lochook/internal/barrier"
	"github.com/k2io/lochook/internal/status"
	"github.com/k2io/lochook/internal/stub"
	"github.com/k2io/lochook/internal/vm"
)

// Handle refers to an installed hook. It is allocated by the caller,
// linked by Install and unlinked by Uninstall or UninstallAll. The zero
// value is ready for Install.
type Handle struct {
	link *hookRecord
}

// hookRecord is the engine side of an installed hook. The part read by the
// generated code lives in the control block at the start of its page.
type hookRecord struct {
	barrier.Hook

	engine  *Engine
	handle  *Handle
	target  uintptr
	handler uintptr

	page       *vm.Page
	block      uintptr
	layout     stub.Layout
	trampoline uintptr
	// relocated entry point
	oldProc   uintptr
	entrySize int
	relocSize int

	// original bytes at target
	backup []byte
	// bytes written at target by Install
	hookCopy  []byte
	signature uint32
}

func (r *hookRecord) word(off uintptr) *uintptr {
	return (*uintptr)(unsafe.Pointer(r.block + off))
}

// hookProc is the handler as seen by the stub, zero once uninstalled.
func (r *hookRecord) hookProc() uintptr {
	return atomic.LoadUintptr(r.word(r.layout.HookProc))
}

func (r *hookRecord) disable() {
	atomic.StoreUintptr(r.word(r.layout.HookProc), 0)
}

// executions is the number of threads currently inside the stub.
func (r *hookRecord) executions() uintptr {
	return atomic.LoadUintptr(r.word(r.layout.IsExecuted))
}

// validHandle returns the hook linked to h if it is installed. The engine
// lock must be held.
func (e *Engine) validHandle(h *Handle) (*hookRecord, bool) {
	if h == nil || h.link == nil {
		return nil, false
	}
	r := h.link
	if r.signature != stub.Signature || r.hookProc() == 0 {
		return nil, false
	}
	return r, true
}

// lookupHandle is validHandle taking the engine lock.
func (e *Engine) lookupHandle(h *Handle) (*hookRecord, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.validHandle(h)
}

// invalidHandle reports an unusable handle given as the n-th argument.
func invalidHandle(n int) error {
	return status.Throw(status.InvalidParameterN(n), "invalid hook handle")
}

// recordOf resolves a control block address to its hook without locking.
// Only the registry is consulted: block may be any address.
func (e *Engine) recordOf(block uintptr) *hookRecord {
	v, ok := blocks.Load(block)
	if !ok {
		return nil
	}
	r := v.(*hookRecord)
	if r.engine != e || r.block != block {
		return nil
	}
	return r
}
