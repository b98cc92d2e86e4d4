// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build (linux || windows) && (amd64 || 386)

package lochook

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/k2io/lochook/internal/vm"
	"github.com/onsi/gomega/gbytes"
	"github.com/stretchr/testify/require"
)

const is64 = unsafe.Sizeof(uintptr(0)) == 8

// prologue returns a function body starting with a frame setup at least
// 13 bytes long, followed by nops and a ret.
func prologue() []byte {
	var code []byte
	if is64 {
		code = []byte{
			0x55,             // push rbp
			0x48, 0x89, 0xe5, // mov rbp, rsp
			0x48, 0x83, 0xec, 0x10, // sub rsp, 0x10
			0x48, 0x89, 0x7d, 0xf8, // mov [rbp-8], rdi
		}
	} else {
		code = []byte{
			0x55,       // push ebp
			0x89, 0xe5, // mov ebp, esp
			0x83, 0xec, 0x10, // sub esp, 0x10
			0x89, 0x45, 0xf8, // mov [ebp-8], eax
		}
	}
	for len(code) < 63 {
		code = append(code, 0x90)
	}
	return append(code, 0xc3)
}

// newTarget copies code into a new executable page and returns its
// address.
func newTarget(t *testing.T, code []byte) uintptr {
	page, err := vm.Allocate(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vm.Free(page) })
	copy(page.Bytes(), code)
	return page.Addr
}

func readCode(addr uintptr, n int) []byte {
	return append([]byte(nil), vm.Bytes(addr, uintptr(n))...)
}

// overwrite replaces code at addr the way another hooking library would.
func overwrite(t *testing.T, addr uintptr, b []byte) {
	restore, err := vm.Protect(addr, uintptr(len(b)))
	require.NoError(t, err)
	copy(vm.Bytes(addr, uintptr(len(b))), b)
	require.NoError(t, restore())
}

// Fake native entry points: the tests call Engine.Intro and Engine.Outro
// directly instead of running the stubs.
const (
	fakeIntro   = uintptr(0x1000)
	fakeOutro   = uintptr(0x2000)
	fakeHandler = uintptr(0x3000)
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *gbytes.Buffer) {
	log := gbytes.NewBuffer()
	if opts.LogLevel == "" {
		opts.LogLevel = "debug"
	}
	opts.LogOutput = log
	if opts.RemovalTimeout == 0 {
		opts.RemovalTimeout = 200 * time.Millisecond
	}
	opts.RemovalPollInterval = time.Millisecond
	if opts.IntroThunk == 0 {
		opts.IntroThunk, opts.OutroThunk = fakeIntro, fakeOutro
	}
	e, err := NewWithOptions(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.CloseNoWait() })
	return e, log
}

var (
	slotsMu sync.Mutex
	slots   []*uintptr
)

// newSlot returns a heap allocated return address slot holding v, and its
// address.
func newSlot(v uintptr) (*uintptr, uintptr) {
	s := new(uintptr)
	*s = v
	slotsMu.Lock()
	slots = append(slots, s)
	slotsMu.Unlock()
	return s, uintptr(unsafe.Pointer(s))
}
