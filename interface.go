// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import "github.com/k2io/lochook/internal/status"

// Interface versions known to QueryInterface.
const (
	InterfaceVersion1   = 0x0001
	InterfaceVersionMax = InterfaceVersion1
)

// InterfaceV1 is the function table of an engine, for components which get
// the hooking services handed over instead of importing this package.
type InterfaceV1 struct {
	Version uint32

	RtlGetLastError       func() Status
	RtlGetLastErrorString func() string

	Install                func(entry, handler uintptr, callback interface{}, h *Handle) error
	Uninstall              func(h *Handle) error
	WaitForPendingRemovals func() error

	BarrierGetCallback               func() (interface{}, error)
	BarrierGetReturnAddress          func() (uintptr, error)
	BarrierGetAddressOfReturnAddress func() (uintptr, error)
	BarrierBeginStackTrace           func() (uintptr, error)
	BarrierEndStackTrace             func(backup uintptr) error
	BarrierPointerToModule           func(addr uintptr) (Module, error)
	BarrierGetCallingModule          func() (Module, error)
	BarrierCallStackTrace            func(max int) ([]uintptr, error)

	SetGlobalExclusiveACL func(ids []uint32) error
	SetGlobalInclusiveACL func(ids []uint32) error
	SetExclusiveACL       func(ids []uint32, h *Handle) error
	SetInclusiveACL       func(ids []uint32, h *Handle) error
	IsProcessIntercepted  func(h *Handle, pid uint32) (bool, error)
	GetHookBypassAddress  func(h *Handle) (uintptr, error)
}

// QueryInterface returns the function table of the given version bound to
// e. Versions newer than InterfaceVersionMax are not supported.
func (e *Engine) QueryInterface(version uint32) (*InterfaceV1, error) {
	if version > InterfaceVersionMax {
		return nil, status.Throwf(status.NotSupported, "interface version %#x is not supported", version)
	}
	if version != InterfaceVersion1 {
		return nil, status.Throwf(status.InvalidParameter1, "unknown interface version %#x", version)
	}
	status.Clear()
	return &InterfaceV1{
		Version: InterfaceVersion1,

		RtlGetLastError:       LastError,
		RtlGetLastErrorString: LastErrorString,

		Install:                e.Install,
		Uninstall:              e.Uninstall,
		WaitForPendingRemovals: e.WaitForPendingRemovals,

		BarrierGetCallback:               e.BarrierGetCallback,
		BarrierGetReturnAddress:          e.BarrierGetReturnAddress,
		BarrierGetAddressOfReturnAddress: e.BarrierGetAddressOfReturnAddress,
		BarrierBeginStackTrace:           e.BarrierBeginStackTrace,
		BarrierEndStackTrace:             e.BarrierEndStackTrace,
		BarrierPointerToModule:           BarrierPointerToModule,
		BarrierGetCallingModule:          e.BarrierGetCallingModule,
		BarrierCallStackTrace:            e.BarrierCallStackTrace,

		SetGlobalExclusiveACL: e.SetGlobalExclusiveACL,
		SetGlobalInclusiveACL: e.SetGlobalInclusiveACL,
		SetExclusiveACL:       e.SetExclusiveACL,
		SetInclusiveACL:       e.SetInclusiveACL,
		IsProcessIntercepted:  e.IsProcessIntercepted,
		GetHookBypassAddress:  e.GetHookBypassAddress,
	}, nil
}
