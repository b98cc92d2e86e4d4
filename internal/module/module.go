// Copyright (C) 2022 K2 Cyber Security Inc.

// Package module lists the executable images loaded in the process and maps
// code addresses to their module and nearest symbol.
package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/k2io/lochook/internal/status"
)

// Module is an executable image mapped in the process.
type Module struct {
	// Name is the base name of the image file.
	Name string
	// Path is the full path of the image file.
	Path string
	// Base is the lowest address of the image.
	Base uintptr
	// Size is the size of the address range spanned by the image.
	Size uintptr
}

// Contains reports whether addr lies within the image.
func (m Module) Contains(addr uintptr) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

func (m Module) String() string {
	return fmt.Sprintf("%s [%#x-%#x]", m.Name, m.Base, m.Base+m.Size)
}

// Enum returns the loaded modules ordered by base address.
func Enum() ([]Module, error) {
	mods, err := enum()
	if err != nil {
		return nil, err
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return mods, nil
}

// Find returns the module of mods containing addr.
func Find(mods []Module, addr uintptr) (Module, error) {
	for _, m := range mods {
		if m.Contains(addr) {
			return m, nil
		}
	}
	return Module{}, status.Throwf(status.NotFound, "no module contains %#x", addr)
}

// PointerToModule returns the loaded module containing addr.
func PointerToModule(addr uintptr) (Module, error) {
	if addr == 0 {
		return Module{}, status.Throw(status.InvalidParameter1, "null pointer")
	}
	mods, err := Enum()
	if err != nil {
		return Module{}, err
	}
	return Find(mods, addr)
}

var symbolCache sync.Map

// symbolsOf returns the symbols of the image at path, reading it once.
func symbolsOf(path string) (*Symbols, error) {
	if s, ok := symbolCache.Load(path); ok {
		return s.(*Symbols), nil
	}
	s, err := ReadSymbols(path)
	if err != nil {
		return nil, err
	}
	symbolCache.Store(path, s)
	return s, nil
}

// Describe returns addr formatted as module!symbol+offset, with as much of
// it as can be resolved.
func Describe(addr uintptr) string {
	m, err := PointerToModule(addr)
	if err != nil {
		return fmt.Sprintf("%#x", addr)
	}
	s, err := symbolsOf(m.Path)
	if err != nil {
		return fmt.Sprintf("%s+%#x", m.Name, addr-m.Base)
	}
	name, off, ok := s.Nearest(addr - m.Base)
	if !ok {
		return fmt.Sprintf("%s+%#x", m.Name, addr-m.Base)
	}
	return fmt.Sprintf("%s!%s+%#x", m.Name, name, off)
}

// Resolve returns the address of the function symbol name in the first
// loaded module defining it.
func Resolve(name string) (uintptr, error) {
	mods, err := Enum()
	if err != nil {
		return 0, err
	}
	for _, m := range mods {
		s, err := symbolsOf(m.Path)
		if err != nil {
			continue
		}
		if rva, ok := s.Lookup(name); ok {
			return m.Base + rva, nil
		}
	}
	return 0, status.Throwf(status.ProcedureNotFound, "symbol %q not found", name)
}
