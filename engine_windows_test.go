// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build amd64 || 386

package lochook

import (
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func TestHookNativeCall(t *testing.T) {
	code := []byte{
		0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0xc3, // ret
	}
	for len(code) < 32 {
		code = append(code, 0xcc)
	}
	target := newTarget(t, code)
	e, err := NewWithOptions(Options{LogLevel: "disabled"})
	require.NoError(t, err)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer e.ThreadDetach()

	handler := windows.NewCallback(func() uintptr {
		cb, err := e.BarrierGetCallback()
		if err != nil || cb != "callback" {
			return 3
		}
		// the original is called from the handler
		r, _, _ := syscall.SyscallN(target)
		return r + 1
	})

	var h Handle
	require.NoError(t, e.Install(target, handler, "callback", &h))
	r, _, _ := syscall.SyscallN(target)
	require.Equal(t, uintptr(1), r)

	require.NoError(t, e.SetExclusiveACL(nil, &h))
	r, _, _ = syscall.SyscallN(target)
	require.Equal(t, uintptr(2), r)

	bypass, err := e.GetHookBypassAddress(&h)
	require.NoError(t, err)
	r, _, _ = syscall.SyscallN(bypass)
	require.Equal(t, uintptr(1), r)

	require.NoError(t, e.Uninstall(&h))
	r, _, _ = syscall.SyscallN(target)
	require.Equal(t, uintptr(1), r)
	require.NoError(t, e.WaitForPendingRemovals())
	require.Equal(t, code, readCode(target, len(code)))
	r, _, _ = syscall.SyscallN(target)
	require.Equal(t, uintptr(1), r)
}

func TestResolveProc(t *testing.T) {
	addr, err := ResolveProc("kernel32.dll", "GetCurrentThreadId")
	require.NoError(t, err)
	require.NotZero(t, addr)
	m, err := BarrierPointerToModule(addr)
	require.NoError(t, err)
	require.True(t, m.Contains(addr))
	require.NotEmpty(t, m.Name)

	_, err = ResolveProc("kernel32.dll", "NoSuchProcedure")
	require.Equal(t, StatusProcedureNotFound, Code(err))
}
