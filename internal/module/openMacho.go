// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Close() error {
	return f.macho.Close()
}

func (f *machoFile) symbols() ([]rawSymbol, error) {
	if f.macho.Symtab == nil {
		return nil, nil
	}
	var base uint64
	if text := f.macho.Segment("__TEXT"); text != nil {
		base = text.Addr
	}
	out := make([]rawSymbol, 0, len(f.macho.Symtab.Syms))
	for _, s := range f.macho.Symtab.Syms {
		if s.Sect == 0 || s.Value < base {
			continue
		}
		out = append(out, rawSymbol{name: s.Name, rva: uintptr(s.Value - base)})
	}
	return out, nil
}
