// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/windows"
)

// ResolveProc loads dll if needed and returns the address of its exported
// procedure proc, ready to be given to Install.
func ResolveProc(dll, proc string) (uintptr, error) {
	p := windows.NewLazyDLL(dll).NewProc(proc)
	if err := p.Find(); err != nil {
		return 0, status.Wrap(err, status.ProcedureNotFound, "cannot resolve "+dll+"!"+proc)
	}
	status.Clear()
	return p.Addr(), nil
}
