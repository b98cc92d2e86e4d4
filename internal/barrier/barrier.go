// Copyright (C) 2022 K2 Cyber Security Inc.

// Package barrier implements the thread deadlock barrier entered by every
// hooked call. It decides whether the calling thread (or process) is
// intercepted and keeps, per thread and per hook slot, whether the handler
// is already running so that a handler calling its own target goes to the
// original code instead of recursing.
//
// Threads are tracked in a bounded table instead of OS thread local
// storage. A thread owns its runtime record once registered: only
// registration and detach take the table lock.
package barrier

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/k2io/lochook/internal/acl"
	"github.com/k2io/lochook/internal/assert"
	"github.com/k2io/lochook/internal/config"
	"github.com/k2io/lochook/internal/status"
)

// Hook is the part of a hook record the barrier reads.
type Hook struct {
	// Slot is the index of the hook in the slot table.
	Slot uint32
	// Ident is the unique hook id. A slot reused by another hook has a
	// different Ident, which resets the stale runtime state.
	Ident uint32
	// Callback is the opaque value passed at installation.
	Callback interface{}
	// ACL is the local access control list of the hook.
	ACL *acl.ACL
}

type runtimeInfo struct {
	executing     bool
	ident         uint32
	retAddress    uintptr
	addrOfRetAddr uintptr
}

type threadInfo struct {
	// allocated on the first intercepted call
	entries   []runtimeInfo
	current   *runtimeInfo
	callback  interface{}
	protected bool
}

type threadEntry struct {
	id   atomic.Uint32
	info threadInfo
}

// Platform provides the identity of the caller and the loader lock test.
type Platform struct {
	// CurrentID returns the id ACLs are evaluated against: the calling
	// thread id or the current process id.
	CurrentID func() uint32
	// LoaderLock reports whether the calling thread holds a lock under
	// which no handler may run.
	LoaderLock func() bool
}

// ThreadPlatform keys the barrier on OS thread ids.
func ThreadPlatform() Platform {
	return Platform{CurrentID: ThreadID, LoaderLock: LoaderLock}
}

// ProcessPlatform keys the barrier on the process id.
func ProcessPlatform() Platform {
	return Platform{CurrentID: ProcessID, LoaderLock: LoaderLock}
}

// Unit is the barrier state of a process: the global ACL and the thread
// table.
type Unit struct {
	platform Platform
	global   *acl.ACL

	mu      sync.Mutex
	threads [config.MaxThreadCount]threadEntry
	// threadID is the id the thread table is keyed on. It is always the OS
	// thread id, even when ACLs use process ids.
	threadID func() uint32
}

// New returns a barrier unit. The global ACL starts exclusive and empty, so
// that it lets every caller through and only local ACLs decide.
func New(p Platform) *Unit {
	if p.LoaderLock == nil {
		p.LoaderLock = func() bool { return false }
	}
	return &Unit{
		platform: p,
		global:   acl.New(true),
		threadID: ThreadID,
	}
}

// GlobalACL returns the ACL applying to every hook.
func (u *Unit) GlobalACL() *acl.ACL {
	return u.global
}

// CurrentID returns the caller id ACLs are evaluated against.
func (u *Unit) CurrentID() uint32 {
	return u.platform.CurrentID()
}

// Intercepted evaluates the global ACL and local for id. A zero id is the
// caller's.
func (u *Unit) Intercepted(local *acl.ACL, id uint32) bool {
	if id == 0 {
		id = u.platform.CurrentID()
	}
	return acl.Intercepted(u.global, local, id)
}

func (u *Unit) lookup(tid uint32) *threadInfo {
	for i := range u.threads {
		if u.threads[i].id.Load() == tid {
			return &u.threads[i].info
		}
	}
	return nil
}

// register adds the calling thread to the table. It returns nil when the
// table is full.
func (u *Unit) register(tid uint32) *threadInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	assert.True(u.lookup(tid) == nil, "thread registered twice")
	for i := range u.threads {
		e := &u.threads[i]
		if e.id.Load() == 0 {
			e.info = threadInfo{}
			e.id.Store(tid)
			return &e.info
		}
	}
	return nil
}

func (u *Unit) current() *threadInfo {
	return u.lookup(u.threadID())
}

func (u *Unit) acquireSelfProtection() bool {
	info := u.current()
	if info == nil || info.protected {
		return false
	}
	info.protected = true
	return true
}

func (u *Unit) releaseSelfProtection() {
	info := u.current()
	assert.True(info != nil && info.protected, "self protection released without being held")
	info.protected = false
}

// Intro is called by the hook stub before the handler. It returns true when
// the handler must run, in which case the stub calls Outro when the handler
// returns. retAddr is the return address of the hooked call and
// addrOfRetAddr the stack slot holding it.
func (u *Unit) Intro(h *Hook, retAddr, addrOfRetAddr uintptr) bool {
	if u.platform.LoaderLock() {
		return false
	}
	tid := u.threadID()
	info := u.lookup(tid)
	exists := info != nil
	if !exists {
		if info = u.register(tid); info == nil {
			return false
		}
	}
	if !u.acquireSelfProtection() {
		return false
	}
	assert.True(h.Slot < config.MaxHookCount, "hook slot out of range")
	if !exists || info.entries == nil {
		info.entries = make([]runtimeInfo, config.MaxHookCount)
	}
	rt := &info.entries[h.Slot]
	if rt.ident != h.Ident {
		rt.ident = h.Ident
		rt.executing = false
	}
	if rt.executing {
		return u.dontIntercept(info)
	}
	info.callback = h.Callback
	info.current = rt
	rt.executing = u.Intercepted(h.ACL, u.platform.CurrentID())
	if !rt.executing {
		return u.dontIntercept(info)
	}
	rt.retAddress = retAddr
	rt.addrOfRetAddr = addrOfRetAddr
	u.releaseSelfProtection()
	return true
}

func (u *Unit) dontIntercept(info *threadInfo) bool {
	info.current = nil
	info.callback = nil
	u.releaseSelfProtection()
	return false
}

// Outro is called by the hook stub after the handler returned. The stub
// pushed a zero in place of the return address at addrOfRetAddr; Outro
// stores the real one there.
func (u *Unit) Outro(h *Hook, addrOfRetAddr uintptr) {
	assert.True(u.acquireSelfProtection(), "self protection acquired in outro")
	info := u.current()
	assert.True(info != nil && info.entries != nil, "thread runtime present in outro")
	rt := &info.entries[h.Slot]
	info.current = nil
	info.callback = nil
	assert.True(rt.executing, "hook executing in outro")
	rt.executing = false
	slot := (*uintptr)(unsafe.Pointer(addrOfRetAddr))
	assert.True(*slot == 0, "return address slot cleared in outro")
	*slot = rt.retAddress
	u.releaseSelfProtection()
}

func (u *Unit) running() (*threadInfo, error) {
	info := u.current()
	if info == nil || info.current == nil {
		return nil, status.Throw(status.NotSupported, "the caller is not inside a hook handler")
	}
	return info, nil
}

// Callback returns the callback of the running handler.
func (u *Unit) Callback() (interface{}, error) {
	info, err := u.running()
	if err != nil {
		return nil, err
	}
	return info.callback, nil
}

// ReturnAddress returns the return address of the running handler, usually
// the instruction following the call to the hooked function.
func (u *Unit) ReturnAddress() (uintptr, error) {
	info, err := u.running()
	if err != nil {
		return 0, err
	}
	return info.current.retAddress, nil
}

// AddressOfReturnAddress returns the stack slot of the return address of
// the running handler.
func (u *Unit) AddressOfReturnAddress() (uintptr, error) {
	info, err := u.running()
	if err != nil {
		return 0, err
	}
	return info.current.addrOfRetAddr, nil
}

// BeginStackTrace temporarily stores the real return address in the stack
// so that stack walks succeed from inside a handler. The returned backup
// must be passed to EndStackTrace before the handler returns.
func (u *Unit) BeginStackTrace() (backup uintptr, err error) {
	info, err := u.running()
	if err != nil {
		return 0, err
	}
	slot := (*uintptr)(unsafe.Pointer(info.current.addrOfRetAddr))
	backup = *slot
	*slot = info.current.retAddress
	return backup, nil
}

// EndStackTrace restores the stack slot saved by BeginStackTrace.
func (u *Unit) EndStackTrace(backup uintptr) error {
	if backup == 0 {
		return status.Throw(status.InvalidParameter, "the given stack backup is invalid")
	}
	addr, err := u.AddressOfReturnAddress()
	if err != nil {
		return err
	}
	*(*uintptr)(unsafe.Pointer(addr)) = backup
	return nil
}

// ThreadDetach releases the runtime record of the calling thread.
func (u *Unit) ThreadDetach() {
	tid := u.threadID()
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.threads {
		e := &u.threads[i]
		if e.id.Load() == tid {
			e.id.Store(0)
			e.info = threadInfo{}
			return
		}
	}
}

// Threads returns the number of registered threads.
func (u *Unit) Threads() int {
	n := 0
	for i := range u.threads {
		if u.threads[i].id.Load() != 0 {
			n++
		}
	}
	return n
}
