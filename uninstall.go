// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"bytes"
	"time"

	"github.com/k2io/lochook/internal/status"
	"github.com/k2io/lochook/internal/vm"
	"github.com/pkg/errors"
)

// Uninstall disables the hook linked to h and queues it for removal. The
// handler stops being called right away but the entry point keeps jumping
// to the hook stub until WaitForPendingRemovals. Uninstalling a hook twice
// succeeds.
func (e *Engine) Uninstall(h *Handle) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if rec, ok := e.validHandle(h); ok {
		e.unlink(rec)
	}
	status.Clear()
	return nil
}

// UninstallAll disables and queues every installed hook for removal.
func (e *Engine) UninstallAll() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	for len(e.hooks) > 0 {
		e.unlink(e.hooks[0])
	}
	status.Clear()
	return nil
}

// unlink moves rec from the hook list to the removal list. The engine lock
// must be held.
func (e *Engine) unlink(rec *hookRecord) {
	for i, r := range e.hooks {
		if r == rec {
			e.hooks = append(e.hooks[:i:i], e.hooks[i+1:]...)
			break
		}
	}
	rec.disable()
	if rec.handle != nil {
		rec.handle.link = nil
		rec.handle = nil
	}
	e.removals = append([]*hookRecord{rec}, e.removals...)
	e.log().Debugf("uninstall: hook %#x at %#x queued for removal", rec.Ident, rec.target)
}

// WaitForPendingRemovals restores the entry points of the uninstalled hooks
// and releases their memory once no thread runs their stub anymore. The
// whole call waits at most the configured removal timeout: hooks still
// executing past it are leaked and StatusTimeout is returned. A hook whose
// entry point was overwritten by someone else is leaked silently.
func (e *Engine) WaitForPendingRemovals() error {
	deadline := time.Now().Add(e.timeout)
	var result error
	for {
		e.lock.Lock()
		if len(e.removals) == 0 {
			e.lock.Unlock()
			break
		}
		rec := e.removals[0]
		e.removals = e.removals[1:]
		e.lock.Unlock()

		if err := e.remove(rec, deadline); err != nil && result == nil {
			result = err
		}
	}
	if result != nil {
		return status.Propagate(result)
	}
	status.Clear()
	return nil
}

func (e *Engine) remove(rec *hookRecord, deadline time.Time) error {
	current := vm.Bytes(rec.target, uintptr(len(rec.hookCopy)))
	if !bytes.Equal(current, rec.hookCopy) {
		e.log().Error(errors.Errorf("removal: entry point %#x of hook %#x was modified, leaking the hook", rec.target, rec.Ident))
		return nil
	}
	if err := e.patch(rec.target, rec.backup); err != nil {
		e.log().Error(errors.Wrapf(err, "removal: cannot restore entry point %#x, leaking the hook", rec.target))
		return err
	}
	for rec.executions() != 0 {
		if time.Now().After(deadline) {
			err := status.Throwf(status.Timeout, "hook %#x at %#x is still executing, leaking it", rec.Ident, rec.target)
			e.log().Error(err)
			return err
		}
		time.Sleep(e.interval)
	}
	e.release(rec)
	e.log().Debugf("removal: hook %#x at %#x released", rec.Ident, rec.target)
	return nil
}

// release frees the slot and the page of a drained hook.
func (e *Engine) release(rec *hookRecord) {
	e.lock.Lock()
	if e.slots[rec.Slot] == rec.Ident {
		e.slots[rec.Slot] = 0
	}
	e.lock.Unlock()

	blocks.CompareAndDelete(rec.block, rec)
	if err := vm.Free(rec.page); err != nil {
		e.log().Error(err)
	}
}
