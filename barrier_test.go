// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build (linux || windows) && (amd64 || 386)

package lochook

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// lockThread pins the test to its OS thread: the barrier keys its state on
// the thread id.
func lockThread(t *testing.T, e *Engine) {
	runtime.LockOSThread()
	t.Cleanup(func() {
		e.ThreadDetach()
		runtime.UnlockOSThread()
	})
}

func TestIntroInertByDefault(t *testing.T) {
	target := newTarget(t, prologue())
	e, _ := newTestEngine(t, Options{})
	lockThread(t, e)

	var h Handle
	require.NoError(t, e.Install(target, fakeHandler, nil, &h))
	block := h.link.block
	_, addr := newSlot(0x1234)
	require.Zero(t, e.Intro(block, 0x1234, addr))

	ok, err := e.IsThreadIntercepted(&h, 0)
	require.NoError(t, err)
	require.False(t, ok)

	// unknown control blocks run the original code
	require.Zero(t, e.Intro(0, 0x1234, addr))
	fake := make([]uintptr, 8)
	other := uintptr(unsafe.Pointer(&fake[0]))
	require.Zero(t, e.Intro(other, 0x1234, addr))
	require.Zero(t, dispatchIntro(other, 0x1234, addr))
	runtime.KeepAlive(fake)
}

func TestIntroReleasedBlock(t *testing.T) {
	target := newTarget(t, prologue())
	e, _ := newTestEngine(t, Options{})
	lockThread(t, e)

	var h Handle
	require.NoError(t, e.Install(target, fakeHandler, nil, &h))
	require.NoError(t, e.SetExclusiveACL(nil, &h))
	block := h.link.block
	require.NoError(t, e.Uninstall(&h))
	require.NoError(t, e.WaitForPendingRemovals())

	// The hook page is unmapped: nothing may read it.
	_, addr := newSlot(0x1234)
	require.Zero(t, e.Intro(block, 0x1234, addr))
	require.Zero(t, dispatchIntro(block, 0x1234, addr))

	// blocks of other engines are ignored
	other, _ := newTestEngine(t, Options{})
	require.NoError(t, e.Install(target, fakeHandler, nil, &h))
	require.Nil(t, other.recordOf(h.link.block))
	require.Zero(t, other.Intro(h.link.block, 0x1234, addr))
}

func TestIntroOutro(t *testing.T) {
	target := newTarget(t, prologue())
	e, _ := newTestEngine(t, Options{})
	lockThread(t, e)

	var h Handle
	require.NoError(t, e.Install(target, fakeHandler, "callback", &h))
	block := h.link.block
	require.NoError(t, e.SetExclusiveACL(nil, &h))

	_, err := e.BarrierGetCallback()
	require.Equal(t, StatusNotSupported, Code(err))

	ret, addr := newSlot(0x1234)
	require.Equal(t, fakeHandler, dispatchIntro(block, 0x1234, addr))

	cb, err := e.BarrierGetCallback()
	require.NoError(t, err)
	require.Equal(t, "callback", cb)
	retAddr, err := e.BarrierGetReturnAddress()
	require.NoError(t, err)
	require.Equal(t, uintptr(0x1234), retAddr)
	slot, err := e.BarrierGetAddressOfReturnAddress()
	require.NoError(t, err)
	require.Equal(t, addr, slot)

	// the stub replaced the return address by its exit
	const exit = uintptr(0xdeadbeef)
	*ret = exit
	backup, err := e.BarrierBeginStackTrace()
	require.NoError(t, err)
	require.Equal(t, exit, backup)
	require.Equal(t, uintptr(0x1234), *ret)
	require.NoError(t, e.BarrierEndStackTrace(backup))
	require.Equal(t, exit, *ret)

	// the stack walk puts the stub exit back whatever the capture returns
	frames, err := e.BarrierCallStackTrace(4)
	if err == nil {
		require.NotEmpty(t, frames)
	} else {
		require.Equal(t, StatusNotSupported, Code(err))
	}
	require.Equal(t, exit, *ret)

	// The handler calls the hooked function: the original runs.
	_, inner := newSlot(0x9999)
	require.Zero(t, e.Intro(block, 0x9999, inner))

	// the stub pushed 0 for the outro to fill
	pushed, pushedAddr := newSlot(0)
	require.Zero(t, dispatchOutro(block, pushedAddr))
	require.Equal(t, uintptr(0x1234), *pushed)
	_, err = e.BarrierGetReturnAddress()
	require.Equal(t, StatusNotSupported, Code(err))

	// Uninstalled hooks stop calling their handler at once.
	require.NoError(t, e.Uninstall(&h))
	require.Zero(t, e.Intro(block, 0x1234, addr))
}

func TestIntroOtherThread(t *testing.T) {
	target := newTarget(t, prologue())
	e, _ := newTestEngine(t, Options{})
	lockThread(t, e)

	var h Handle
	require.NoError(t, e.Install(target, fakeHandler, nil, &h))
	// only the current thread
	require.NoError(t, e.SetInclusiveACL([]uint32{0}, &h))
	self := e.unit.CurrentID()
	ok, err := e.IsThreadIntercepted(&h, self)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.IsThreadIntercepted(&h, self+1)
	require.NoError(t, err)
	require.False(t, ok)

	block := h.link.block
	done := make(chan uintptr)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer e.ThreadDetach()
		_, addr := newSlot(0x1234)
		done <- e.Intro(block, 0x1234, addr)
	}()
	require.Zero(t, <-done)

	// The global ACL excludes the current thread.
	require.NoError(t, e.SetGlobalExclusiveACL([]uint32{0}))
	_, addr := newSlot(0x1234)
	require.Zero(t, e.Intro(block, 0x1234, addr))
	require.NoError(t, e.SetGlobalExclusiveACL(nil))
	require.Equal(t, fakeHandler, e.Intro(block, 0x1234, addr))
	pushed, pushedAddr := newSlot(0)
	e.Outro(block, pushedAddr)
	require.Equal(t, uintptr(0x1234), *pushed)
}

func TestACLInvalidHandle(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	var h Handle
	require.Equal(t, StatusInvalidParameter3, Code(e.SetInclusiveACL(nil, &h)))
	require.Equal(t, StatusInvalidParameter3, Code(e.SetExclusiveACL(nil, nil)))
	_, err := e.IsThreadIntercepted(&h, 0)
	require.Equal(t, StatusInvalidParameter1, Code(err))
	_, err = e.IsProcessIntercepted(nil, 0)
	require.Equal(t, StatusInvalidParameter1, Code(err))

	require.Equal(t, StatusInvalidParameter2, Code(e.SetGlobalInclusiveACL(make([]uint32, MaxACECount+1))))
	require.NoError(t, e.SetGlobalInclusiveACL(make([]uint32, MaxACECount)))
}

func TestCallStackTraceOutsideHandler(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	_, err := e.BarrierCallStackTrace(MaxStackTrace + 1)
	require.Equal(t, StatusInvalidParameter2, Code(err))
	_, err = e.BarrierCallStackTrace(0)
	require.Equal(t, StatusInvalidParameter2, Code(err))
	_, err = e.BarrierCallStackTrace(16)
	require.Equal(t, StatusNotSupported, Code(err))
	_, err = e.BarrierGetCallingModule()
	require.Equal(t, StatusNotSupported, Code(err))
	require.Equal(t, StatusInvalidParameter, Code(e.BarrierEndStackTrace(0)))
}
