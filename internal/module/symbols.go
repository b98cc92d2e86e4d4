// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"io"
	"os"
	"sort"

	"github.com/k2io/lochook/internal/status"
	"github.com/pkg/errors"
)

// Symbols are the function symbols of an image file. Addresses are
// relative to the load base of the image.
type Symbols struct {
	names []string
	rvas  []uintptr
	index map[string]uintptr
}

type rawSymbol struct {
	name string
	rva  uintptr
}

type rawFile interface {
	symbols() ([]rawSymbol, error)
	io.Closer
}

var objTypes = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openPE,
	openMacho,
}

// ReadSymbols reads the symbol table of the ELF, PE or Mach-O file at path.
func ReadSymbols(path string) (*Symbols, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, status.Wrap(err, status.NotFound, "cannot open image file")
	}
	defer r.Close()
	for _, try := range objTypes {
		raw, err := try(r)
		if err != nil {
			continue
		}
		syms, err := raw.symbols()
		raw.Close()
		if err != nil {
			return nil, status.Wrap(errors.Wrapf(err, "%s", path), status.NotFound, "cannot read symbols")
		}
		return newSymbols(syms), nil
	}
	return nil, status.Throwf(status.NotSupported, "open %s: unrecognized object file", path)
}

func newSymbols(raw []rawSymbol) *Symbols {
	sort.Slice(raw, func(i, j int) bool { return raw[i].rva < raw[j].rva })
	s := &Symbols{
		names: make([]string, 0, len(raw)),
		rvas:  make([]uintptr, 0, len(raw)),
		index: make(map[string]uintptr, len(raw)),
	}
	for _, r := range raw {
		if r.name == "" {
			continue
		}
		s.names = append(s.names, r.name)
		s.rvas = append(s.rvas, r.rva)
		if _, dup := s.index[r.name]; !dup {
			s.index[r.name] = r.rva
		}
	}
	return s
}

// Len returns the number of symbols.
func (s *Symbols) Len() int {
	return len(s.names)
}

// Lookup returns the relative address of the symbol name.
func (s *Symbols) Lookup(name string) (uintptr, bool) {
	rva, ok := s.index[name]
	return rva, ok
}

// Nearest returns the symbol at or below the relative address rva and the
// offset of rva from it.
func (s *Symbols) Nearest(rva uintptr) (name string, offset uintptr, ok bool) {
	i := sort.Search(len(s.rvas), func(i int) bool { return s.rvas[i] > rva })
	if i == 0 {
		return "", 0, false
	}
	return s.names[i-1], rva - s.rvas[i-1], true
}

// Map returns the symbols by name.
func (s *Symbols) Map() map[string]uintptr {
	m := make(map[string]uintptr, len(s.index))
	for name, rva := range s.index {
		m[name] = rva
	}
	return m
}
