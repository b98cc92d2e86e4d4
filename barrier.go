// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"sync"

	"github.com/k2io/lochook/internal/assert"
	"github.com/k2io/lochook/internal/module"
	"github.com/k2io/lochook/internal/status"
)

// blocks maps the control block address of every live hook page to its
// record, for the native entry points which only receive the block.
var blocks sync.Map

func dispatchIntro(block, retAddr, addrOfRetAddr uintptr) uintptr {
	v, ok := blocks.Load(block)
	if !ok {
		return 0
	}
	return v.(*hookRecord).engine.Intro(block, retAddr, addrOfRetAddr)
}

func dispatchOutro(block, addrOfRetAddr uintptr) uintptr {
	v, ok := blocks.Load(block)
	assert.True(ok, "hook page registered in outro")
	v.(*hookRecord).engine.Outro(block, addrOfRetAddr)
	return 0
}

// Intro is the barrier entry of the hook whose control block is at block.
// It returns the handler to call, or zero to run the original function.
func (e *Engine) Intro(block, retAddr, addrOfRetAddr uintptr) uintptr {
	rec := e.recordOf(block)
	if rec == nil {
		return 0
	}
	proc := rec.hookProc()
	if proc == 0 {
		return 0
	}
	if !e.unit.Intro(&rec.Hook, retAddr, addrOfRetAddr) {
		return 0
	}
	return proc
}

// Outro is the barrier exit of a handler started by Intro. It writes the
// return address of the hooked call back at addrOfRetAddr.
func (e *Engine) Outro(block, addrOfRetAddr uintptr) {
	rec := e.recordOf(block)
	assert.True(rec != nil, "hook record present in outro")
	e.unit.Outro(&rec.Hook, addrOfRetAddr)
}

// BarrierGetCallback returns the callback given to Install for the hook
// whose handler is running on the calling thread.
func (e *Engine) BarrierGetCallback() (interface{}, error) {
	cb, err := e.unit.Callback()
	return cb, status.Propagate(err)
}

// BarrierGetReturnAddress returns the return address of the intercepted
// call.
func (e *Engine) BarrierGetReturnAddress() (uintptr, error) {
	addr, err := e.unit.ReturnAddress()
	return addr, status.Propagate(err)
}

// BarrierGetAddressOfReturnAddress returns the stack slot of the return
// address of the intercepted call.
func (e *Engine) BarrierGetAddressOfReturnAddress() (uintptr, error) {
	addr, err := e.unit.AddressOfReturnAddress()
	return addr, status.Propagate(err)
}

// BarrierBeginStackTrace puts the real return address back on the stack so
// that a stack walk from the handler goes through the hooked call. The
// backup must be given to BarrierEndStackTrace before the handler returns.
func (e *Engine) BarrierBeginStackTrace() (uintptr, error) {
	backup, err := e.unit.BeginStackTrace()
	return backup, status.Propagate(err)
}

// BarrierEndStackTrace undoes BarrierBeginStackTrace.
func (e *Engine) BarrierEndStackTrace(backup uintptr) error {
	return status.Propagate(e.unit.EndStackTrace(backup))
}

// MaxStackTrace is the largest frame count accepted by
// BarrierCallStackTrace.
const MaxStackTrace = 64

// BarrierCallStackTrace returns up to max return addresses of the native
// stack of the running handler, through the hooked call.
func (e *Engine) BarrierCallStackTrace(max int) ([]uintptr, error) {
	if max <= 0 || max > MaxStackTrace {
		return nil, status.Throwf(status.InvalidParameter2, "frame count must be in [1, %d]", MaxStackTrace)
	}
	if max > module.MaxFrames {
		max = module.MaxFrames
	}
	backup, err := e.unit.BeginStackTrace()
	if err != nil {
		return nil, status.Propagate(err)
	}
	defer func() {
		// the handler would return past the stub exit
		assert.NoError(e.unit.EndStackTrace(backup), "stub exit restored after stack trace")
	}()
	frames, err := module.CaptureStack(1, max)
	return frames, status.Propagate(err)
}

// BarrierGetCallingModule returns the module the intercepted call comes
// from.
func (e *Engine) BarrierGetCallingModule() (Module, error) {
	ret, err := e.unit.ReturnAddress()
	if err != nil {
		return Module{}, status.Propagate(err)
	}
	m, err := module.PointerToModule(ret)
	return m, status.Propagate(err)
}

// ThreadDetach forgets the barrier state of the calling thread. Threads
// that called hooked functions should call it before exiting, otherwise
// their entry stays in the bounded thread table.
func (e *Engine) ThreadDetach() {
	e.unit.ThreadDetach()
}
