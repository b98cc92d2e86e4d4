// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"github.com/k2io/lochook/internal/acl"
	"github.com/k2io/lochook/internal/status"
)

// MaxACECount is the maximum number of identifiers in one ACL.
const MaxACECount = acl.MaxACECount

// Local ACLs start as empty inclusive lists: a new hook intercepts nobody.
func newLocalACL() *acl.ACL {
	return acl.New(false)
}

// SetInclusiveACL makes the hook intercept only the listed threads (or
// processes, depending on the configured identity). A zero id stands for
// the caller.
func (e *Engine) SetInclusiveACL(ids []uint32, h *Handle) error {
	return e.setLocalACL(false, ids, h)
}

// SetExclusiveACL makes the hook intercept everybody but the listed
// threads.
func (e *Engine) SetExclusiveACL(ids []uint32, h *Handle) error {
	return e.setLocalACL(true, ids, h)
}

func (e *Engine) setLocalACL(exclusive bool, ids []uint32, h *Handle) error {
	rec, ok := e.lookupHandle(h)
	if !ok {
		return invalidHandle(3)
	}
	return status.Propagate(rec.ACL.Set(exclusive, ids, e.unit.CurrentID()))
}

// SetGlobalInclusiveACL restricts every hook to the listed threads.
func (e *Engine) SetGlobalInclusiveACL(ids []uint32) error {
	return status.Propagate(e.unit.GlobalACL().Set(false, ids, e.unit.CurrentID()))
}

// SetGlobalExclusiveACL keeps every hook from intercepting the listed
// threads.
func (e *Engine) SetGlobalExclusiveACL(ids []uint32) error {
	return status.Propagate(e.unit.GlobalACL().Set(true, ids, e.unit.CurrentID()))
}

// IsThreadIntercepted reports whether the hook intercepts calls from thread
// tid, zero being the caller.
func (e *Engine) IsThreadIntercepted(h *Handle, tid uint32) (bool, error) {
	return e.isIntercepted(h, tid)
}

// IsProcessIntercepted reports whether the hook intercepts calls from
// process pid, zero being the caller. It is meaningful with the process
// identity.
func (e *Engine) IsProcessIntercepted(h *Handle, pid uint32) (bool, error) {
	return e.isIntercepted(h, pid)
}

func (e *Engine) isIntercepted(h *Handle, id uint32) (bool, error) {
	rec, ok := e.lookupHandle(h)
	if !ok {
		return false, invalidHandle(1)
	}
	status.Clear()
	return e.unit.Intercepted(rec.ACL, id), nil
}

// GetHookBypassAddress returns the relocated entry point of the hooked
// function. Calling it runs the original function without going through
// the hook.
func (e *Engine) GetHookBypassAddress(h *Handle) (uintptr, error) {
	rec, ok := e.lookupHandle(h)
	if !ok {
		return 0, invalidHandle(1)
	}
	status.Clear()
	return rec.oldProc, nil
}
