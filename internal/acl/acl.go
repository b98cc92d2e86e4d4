// Copyright (C) 2022 K2 Cyber Security Inc.

// Package acl implements the thread (or process) access control lists
// deciding which callers a hook intercepts.
package acl

import (
	"sync/atomic"

	"github.com/k2io/lochook/internal/status"
)

// MaxACECount is the maximum number of identifiers in one list.
const MaxACECount = 128

// ACL is a list of thread or process identifiers that is either inclusive
// or exclusive. It is safe for concurrent use: Set publishes a new
// immutable snapshot read lock-free by the barrier.
type ACL struct {
	entries atomic.Pointer[entries]
}

type entries struct {
	exclusive bool
	ids       []uint32
}

// New returns an empty ACL.
func New(exclusive bool) *ACL {
	a := &ACL{}
	a.entries.Store(&entries{exclusive: exclusive})
	return a
}

// Set replaces the whole list. Zero identifiers are replaced by self, the
// caller's identifier. More than MaxACECount identifiers fail with
// StatusInvalidParameter2.
func (a *ACL) Set(exclusive bool, ids []uint32, self uint32) error {
	if len(ids) > MaxACECount {
		return status.Throwf(status.InvalidParameter2, "at most %d identifiers are allowed, got %d", MaxACECount, len(ids))
	}
	e := &entries{exclusive: exclusive, ids: make([]uint32, len(ids))}
	for i, id := range ids {
		if id == 0 {
			id = self
		}
		e.ids[i] = id
	}
	a.entries.Store(e)
	return nil
}

// Intercepted evaluates the global and local lists for id. A caller listed
// in an exclusive local list, or absent from an inclusive one, is never
// intercepted. Otherwise being listed in the global list intercepts when it
// is inclusive, and not being listed intercepts when it is exclusive.
func Intercepted(global, local *ACL, id uint32) bool {
	g := global.entries.Load()
	l := local.entries.Load()
	inLocal := contains(l.ids, id)
	if inLocal && l.exclusive {
		return false
	}
	if !inLocal && !l.exclusive {
		return false
	}
	if contains(g.ids, id) {
		return !g.exclusive
	}
	return g.exclusive
}

func contains(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
