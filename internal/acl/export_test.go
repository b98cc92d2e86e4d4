// Copyright (C) 2022 K2 Cyber Security Inc.

package acl

// Entries returns the mode and a copy of the identifiers of a.
func (a *ACL) Entries() (exclusive bool, ids []uint32) {
	e := a.entries.Load()
	return e.exclusive, append([]uint32(nil), e.ids...)
}
