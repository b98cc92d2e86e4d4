// Copyright (C) 2022 K2 Cyber Security Inc.

package barrier

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"github.com/k2io/lochook/internal/acl"
	"github.com/k2io/lochook/internal/assert"
	"github.com/k2io/lochook/internal/config"
	"github.com/k2io/lochook/internal/status"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const exitAddr = uintptr(0xdeadbeef)

var (
	slotsMu sync.Mutex
	slots   []*uintptr
)

// newSlot returns a heap allocated return address slot holding v, and its
// address. Slots stay reachable until the end of the tests.
func newSlot(v uintptr) (*uintptr, uintptr) {
	s := new(uintptr)
	*s = v
	slotsMu.Lock()
	slots = append(slots, s)
	slotsMu.Unlock()
	return s, uintptr(unsafe.Pointer(s))
}

// newTestUnit returns a unit whose caller is the thread id pointed to by
// tid.
func newTestUnit(tid *uint32) *Unit {
	u := New(Platform{CurrentID: func() uint32 { return *tid }})
	u.threadID = func() uint32 { return *tid }
	return u
}

func newHook(slot, ident uint32, callback interface{}) *Hook {
	return &Hook{Slot: slot, Ident: ident, Callback: callback, ACL: acl.New(false)}
}

// catchAssert makes assertion failures panic for the duration of the test.
func catchAssert(t *testing.T) {
	prev := assert.SetAbort(func(err error) { panic(err) })
	t.Cleanup(func() { assert.SetAbort(prev) })
}

func TestIntroInertByDefault(t *testing.T) {
	tid := uint32(42)
	u := newTestUnit(&tid)
	h := newHook(0, 0x10000000, "cb")

	_, addr := newSlot(exitAddr)
	require.False(t, u.Intro(h, 0x1234, addr))
	// the thread got registered anyway
	require.Equal(t, 1, u.Threads())
	_, err := u.Callback()
	require.Equal(t, status.NotSupported, status.Code(err))
}

func TestIntroOutro(t *testing.T) {
	catchAssert(t)
	tid := uint32(42)
	u := newTestUnit(&tid)
	h := newHook(3, 0x10000001, "cb")
	require.NoError(t, h.ACL.Set(false, []uint32{0}, u.CurrentID()))

	_, stack := newSlot(exitAddr)
	require.True(t, u.Intro(h, 0x1234, stack))

	cb, err := u.Callback()
	require.NoError(t, err)
	require.Equal(t, "cb", cb)
	ret, err := u.ReturnAddress()
	require.NoError(t, err)
	require.Equal(t, uintptr(0x1234), ret)
	addr, err := u.AddressOfReturnAddress()
	require.NoError(t, err)
	require.Equal(t, stack, addr)

	// The handler calls its own target: it goes to the original.
	require.False(t, u.Intro(h, 0x5678, stack))
	_, err = u.Callback()
	require.Equal(t, status.NotSupported, status.Code(err))

	// the stub pushed 0 in place of the return address
	pushed, pushedAddr := newSlot(0)
	u.Outro(h, pushedAddr)
	require.Equal(t, uintptr(0x1234), *pushed)

	// intercepted again once the handler returned
	require.True(t, u.Intro(h, 0x9999, stack))
	*pushed = 0
	u.Outro(h, pushedAddr)
	require.Equal(t, uintptr(0x9999), *pushed)
}

func TestIntroOtherHookFromHandler(t *testing.T) {
	catchAssert(t)
	tid := uint32(7)
	u := newTestUnit(&tid)
	a := newHook(0, 0x10000000, "a")
	b := newHook(1, 0x10000001, "b")
	require.NoError(t, a.ACL.Set(true, nil, 0))
	require.NoError(t, b.ACL.Set(true, nil, 0))

	sa, addrA := newSlot(0)
	sb, addrB := newSlot(0)
	require.True(t, u.Intro(a, 0x100, addrA))
	require.True(t, u.Intro(b, 0x200, addrB))
	cb, err := u.Callback()
	require.NoError(t, err)
	require.Equal(t, "b", cb)
	u.Outro(b, addrB)
	require.Equal(t, uintptr(0x200), *sb)
	u.Outro(a, addrA)
	require.Equal(t, uintptr(0x100), *sa)
}

func TestIntroStaleSlot(t *testing.T) {
	catchAssert(t)
	tid := uint32(42)
	u := newTestUnit(&tid)
	old := newHook(5, 0x10000000, nil)
	require.NoError(t, old.ACL.Set(true, nil, 0))

	_, addr := newSlot(exitAddr)
	require.True(t, u.Intro(old, 0x10, addr))
	// The hook is removed while its handler runs and its slot is reused.
	reused := newHook(5, 0x10000001, nil)
	require.NoError(t, reused.ACL.Set(true, nil, 0))
	require.True(t, u.Intro(reused, 0x20, addr))
}

func TestIntroLoaderLock(t *testing.T) {
	tid := uint32(42)
	u := newTestUnit(&tid)
	u.platform.LoaderLock = func() bool { return true }
	h := newHook(0, 0x10000000, nil)
	require.NoError(t, h.ACL.Set(true, nil, 0))
	_, addr := newSlot(exitAddr)
	require.False(t, u.Intro(h, 0x10, addr))
	require.Equal(t, 0, u.Threads())
}

func TestIntroThreadTableFull(t *testing.T) {
	catchAssert(t)
	tid := uint32(0)
	u := newTestUnit(&tid)
	h := newHook(0, 0x10000000, nil)
	require.NoError(t, h.ACL.Set(true, nil, 0))
	s, addr := newSlot(0)
	for i := 1; i <= config.MaxThreadCount; i++ {
		tid = uint32(i)
		require.True(t, u.Intro(h, 0x10, addr))
		*s = 0
		u.Outro(h, addr)
	}
	require.Equal(t, config.MaxThreadCount, u.Threads())

	tid = config.MaxThreadCount + 1
	require.False(t, u.Intro(h, 0x10, addr))

	// a detached thread frees its entry
	tid = 1
	u.ThreadDetach()
	require.Equal(t, config.MaxThreadCount-1, u.Threads())
	tid = config.MaxThreadCount + 1
	require.True(t, u.Intro(h, 0x10, addr))
}

func TestSelfProtection(t *testing.T) {
	tid := uint32(42)
	u := newTestUnit(&tid)
	h := newHook(0, 0x10000000, nil)
	require.NoError(t, h.ACL.Set(true, nil, 0))

	// unregistered threads cannot be protected
	require.False(t, u.acquireSelfProtection())

	_, addr := newSlot(exitAddr)
	require.True(t, u.Intro(h, 0x10, addr))
	u.ThreadDetach()
	require.False(t, u.acquireSelfProtection())

	tid = 43
	require.True(t, u.Intro(h, 0x10, addr))
	require.True(t, u.acquireSelfProtection())
	require.False(t, u.acquireSelfProtection())
	// hooks called by the barrier itself are not intercepted
	other := newHook(1, 0x10000001, nil)
	require.NoError(t, other.ACL.Set(true, nil, 0))
	require.False(t, u.Intro(other, 0x10, addr))
	u.releaseSelfProtection()
	require.True(t, u.Intro(other, 0x10, addr))
}

func TestIntercepted(t *testing.T) {
	tid := uint32(42)
	u := newTestUnit(&tid)
	local := acl.New(false)
	require.False(t, u.Intercepted(local, 0))
	require.NoError(t, local.Set(false, []uint32{0}, u.CurrentID()))
	require.True(t, u.Intercepted(local, 0))
	require.True(t, u.Intercepted(local, 42))
	require.False(t, u.Intercepted(local, 43))
	require.NoError(t, u.GlobalACL().Set(true, []uint32{42}, 0))
	require.False(t, u.Intercepted(local, 0))
}

func TestStackTrace(t *testing.T) {
	catchAssert(t)
	tid := uint32(42)
	u := newTestUnit(&tid)

	_, err := u.BeginStackTrace()
	require.Equal(t, status.NotSupported, status.Code(err))
	require.Equal(t, status.InvalidParameter, status.Code(u.EndStackTrace(0)))
	require.Equal(t, status.NotSupported, status.Code(u.EndStackTrace(exitAddr)))

	h := newHook(0, 0x10000000, nil)
	require.NoError(t, h.ACL.Set(true, nil, 0))
	stack, addr := newSlot(exitAddr)
	require.True(t, u.Intro(h, 0x1234, addr))

	backup, err := u.BeginStackTrace()
	require.NoError(t, err)
	require.Equal(t, exitAddr, backup)
	require.Equal(t, uintptr(0x1234), *stack)
	require.NoError(t, u.EndStackTrace(backup))
	require.Equal(t, exitAddr, *stack)
}

func TestOutroWithoutIntro(t *testing.T) {
	catchAssert(t)
	tid := uint32(42)
	u := newTestUnit(&tid)
	h := newHook(0, 0x10000000, nil)
	_, addr := newSlot(0)
	require.Panics(t, func() { u.Outro(h, addr) })
}

func TestOutroNonZeroSlot(t *testing.T) {
	catchAssert(t)
	tid := uint32(42)
	u := newTestUnit(&tid)
	h := newHook(0, 0x10000000, nil)
	require.NoError(t, h.ACL.Set(true, nil, 0))
	_, addr := newSlot(exitAddr)
	require.True(t, u.Intro(h, 0x10, addr))

	defer func() {
		err, _ := recover().(error)
		require.Error(t, err)
		require.Contains(t, errors.Cause(err).Error(), "return address slot")
	}()
	u.Outro(h, addr)
}

func TestConcurrentThreads(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		t.Skip("needs distinct thread ids")
	}
	catchAssert(t)
	u := New(Platform{CurrentID: ThreadID})
	h := newHook(0, 0x10000000, nil)

	const n = 8
	ids := make(chan uint32, n)
	start := make(chan struct{})
	results := make([][]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			ids <- ThreadID()
			<-start
			s, addr := newSlot(exitAddr)
			for j := 0; j < 100; j++ {
				ok := u.Intro(h, uintptr(0x1000+j), addr)
				results[i] = append(results[i], ok)
				if ok {
					*s = 0
					u.Outro(h, addr)
					if *s != uintptr(0x1000+j) {
						results[i] = append(results[i], false)
					}
				}
			}
			u.ThreadDetach()
		}(i)
	}

	var listed []uint32
	var all []uint32
	for i := 0; i < n; i++ {
		id := <-ids
		all = append(all, id)
		if i%2 == 0 {
			listed = append(listed, id)
		}
	}
	require.NoError(t, h.ACL.Set(false, listed, 0))
	close(start)
	wg.Wait()

	intercepted := 0
	for i := range results {
		for _, ok := range results[i] {
			if ok {
				intercepted++
			}
		}
	}
	require.Equal(t, len(listed)*100, intercepted)
	require.Equal(t, 0, u.Threads())
	require.Len(t, all, n)
}
