// Copyright (C) 2022 K2 Cyber Security Inc.

// Package lochook intercepts native functions of the current process by
// rewriting their entry point into a jump toward a per-hook trampoline.
//
// The trampoline enters a thread barrier which decides, from the global
// and the hook access control lists, whether the calling thread runs the
// handler or the relocated original code. A handler calling its own target
// always gets the original code. New hooks intercept nobody until an ACL
// lists a thread:
//
//	var h lochook.Handle
//	if err := lochook.Install(target, handler, nil, &h); err != nil {
//		return err
//	}
//	// intercept every thread
//	if err := lochook.SetExclusiveACL(nil, &h); err != nil {
//		return err
//	}
//	...
//	lochook.Uninstall(&h)
//	lochook.WaitForPendingRemovals()
//
// Handlers are native functions following the calling convention of the
// hooked function. On Windows they can be created with
// windows.NewCallback. Errors carry an NTSTATUS-like code, see Code and
// LastError.
package lochook
