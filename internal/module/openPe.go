// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

func (f *peFile) Close() error {
	return f.pe.Close()
}

func (f *peFile) symbols() ([]rawSymbol, error) {
	out := make([]rawSymbol, 0, len(f.pe.Symbols))
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sect := f.pe.Sections[s.SectionNumber-1]
		if sect.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE == 0 {
			continue
		}
		out = append(out, rawSymbol{name: s.Name, rva: uintptr(sect.VirtualAddress) + uintptr(s.Value)})
	}
	return out, nil
}
