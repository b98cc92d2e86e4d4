// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

// Package level shortcuts to the default engine.

// Install installs a hook with the default engine. See Engine.Install.
func Install(entry, handler uintptr, callback interface{}, h *Handle) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.Install(entry, handler, callback, h)
}

// Uninstall uninstalls a hook of the default engine.
func Uninstall(h *Handle) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.Uninstall(h)
}

// UninstallAll uninstalls every hook of the default engine.
func UninstallAll() error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.UninstallAll()
}

// WaitForPendingRemovals releases the uninstalled hooks of the default
// engine.
func WaitForPendingRemovals() error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.WaitForPendingRemovals()
}

// SetInclusiveACL sets the local ACL of a hook of the default engine.
func SetInclusiveACL(ids []uint32, h *Handle) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.SetInclusiveACL(ids, h)
}

// SetExclusiveACL sets the local ACL of a hook of the default engine.
func SetExclusiveACL(ids []uint32, h *Handle) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.SetExclusiveACL(ids, h)
}

// SetGlobalInclusiveACL sets the global ACL of the default engine.
func SetGlobalInclusiveACL(ids []uint32) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.SetGlobalInclusiveACL(ids)
}

// SetGlobalExclusiveACL sets the global ACL of the default engine.
func SetGlobalExclusiveACL(ids []uint32) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.SetGlobalExclusiveACL(ids)
}

// IsThreadIntercepted evaluates the ACLs of a hook of the default engine.
func IsThreadIntercepted(h *Handle, tid uint32) (bool, error) {
	e, err := Default()
	if err != nil {
		return false, err
	}
	return e.IsThreadIntercepted(h, tid)
}

// IsProcessIntercepted evaluates the ACLs of a hook of the default engine.
func IsProcessIntercepted(h *Handle, pid uint32) (bool, error) {
	e, err := Default()
	if err != nil {
		return false, err
	}
	return e.IsProcessIntercepted(h, pid)
}

// GetHookBypassAddress returns the original entry point of a hook of the
// default engine.
func GetHookBypassAddress(h *Handle) (uintptr, error) {
	e, err := Default()
	if err != nil {
		return 0, err
	}
	return e.GetHookBypassAddress(h)
}

// BarrierGetCallback returns the callback of the running handler.
func BarrierGetCallback() (interface{}, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.BarrierGetCallback()
}

// BarrierGetReturnAddress returns the return address of the intercepted
// call.
func BarrierGetReturnAddress() (uintptr, error) {
	e, err := Default()
	if err != nil {
		return 0, err
	}
	return e.BarrierGetReturnAddress()
}

// BarrierGetAddressOfReturnAddress returns the stack slot of the return
// address of the intercepted call.
func BarrierGetAddressOfReturnAddress() (uintptr, error) {
	e, err := Default()
	if err != nil {
		return 0, err
	}
	return e.BarrierGetAddressOfReturnAddress()
}

// BarrierBeginStackTrace prepares the stack of the running handler for a
// stack walk.
func BarrierBeginStackTrace() (uintptr, error) {
	e, err := Default()
	if err != nil {
		return 0, err
	}
	return e.BarrierBeginStackTrace()
}

// BarrierEndStackTrace undoes BarrierBeginStackTrace.
func BarrierEndStackTrace(backup uintptr) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.BarrierEndStackTrace(backup)
}

// BarrierCallStackTrace captures the native stack of the running handler.
func BarrierCallStackTrace(max int) ([]uintptr, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.BarrierCallStackTrace(max)
}

// BarrierGetCallingModule returns the module of the intercepted caller.
func BarrierGetCallingModule() (Module, error) {
	e, err := Default()
	if err != nil {
		return Module{}, err
	}
	return e.BarrierGetCallingModule()
}

// ThreadDetach forgets the barrier state of the calling thread.
func ThreadDetach() {
	if e, err := Default(); err == nil {
		e.ThreadDetach()
	}
}

// QueryInterface returns the function table of the default engine.
func QueryInterface(version uint32) (*InterfaceV1, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.QueryInterface(version)
}

// Close uninstalls and releases every hook of the default engine.
func Close() error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.Close()
}
