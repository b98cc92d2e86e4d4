// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Close() error {
	return e.elf.Close()
}

// imageBase is the page of the lowest loadable segment, which is mapped at
// the module base.
func (e *elfFile) imageBase() uint64 {
	base := ^uint64(0)
	for _, p := range e.elf.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < base {
			base = p.Vaddr
		}
	}
	if base == ^uint64(0) {
		return 0
	}
	return base &^ 0xfff
}

func (e *elfFile) symbols() ([]rawSymbol, error) {
	stab, err := e.elf.Symbols()
	if err != nil {
		if err != elf.ErrNoSymbols {
			return nil, err
		}
		stab = nil
	}
	// stripped shared objects still carry their exported symbols
	if dyn, err := e.elf.DynamicSymbols(); err == nil {
		stab = append(stab, dyn...)
	}
	base := e.imageBase()
	out := make([]rawSymbol, 0, len(stab))
	for _, k := range stab {
		if elf.ST_TYPE(k.Info) != elf.STT_FUNC || k.Section == elf.SHN_UNDEF || k.Value < base {
			continue
		}
		out = append(out, rawSymbol{name: k.Name, rva: uintptr(k.Value - base)})
	}
	return out, nil
}
