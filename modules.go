// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"github.com/k2io/lochook/internal/module"
	"github.com/k2io/lochook/internal/status"
)

// Module is an executable image loaded in the process.
type Module = module.Module

// EnumModules returns the loaded modules ordered by base address.
func EnumModules() ([]Module, error) {
	mods, err := module.Enum()
	return mods, status.Propagate(err)
}

// BarrierPointerToModule returns the loaded module containing addr.
func BarrierPointerToModule(addr uintptr) (Module, error) {
	m, err := module.PointerToModule(addr)
	return m, status.Propagate(err)
}

// ResolveSymbol returns the address of the function symbol name, looked up
// in the symbol tables of the loaded modules.
func ResolveSymbol(name string) (uintptr, error) {
	addr, err := module.Resolve(name)
	return addr, status.Propagate(err)
}

// GetSymbols returns the function symbols of the ELF, PE or Mach-O image
// at path, with their addresses relative to the image base.
func GetSymbols(path string) (map[string]uintptr, error) {
	s, err := module.ReadSymbols(path)
	if err != nil {
		return nil, status.Propagate(err)
	}
	status.Clear()
	return s.Map(), nil
}
