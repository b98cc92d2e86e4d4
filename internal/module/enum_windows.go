// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"path/filepath"
	"unsafe"

	"github.com/k2io/lochook/internal/status"
	"golang.org/x/sys/windows"
)

func enum() ([]Module, error) {
	process := windows.CurrentProcess()
	handles := make([]windows.Handle, 256)
	for {
		var needed uint32
		size := uint32(len(handles)) * uint32(unsafe.Sizeof(handles[0]))
		if err := windows.EnumProcessModules(process, &handles[0], size, &needed); err != nil {
			return nil, status.Wrap(err, status.InternalError, "cannot list the loaded modules")
		}
		if needed <= size {
			handles = handles[:needed/uint32(unsafe.Sizeof(handles[0]))]
			break
		}
		handles = make([]windows.Handle, needed/uint32(unsafe.Sizeof(handles[0])))
	}

	mods := make([]Module, 0, len(handles))
	name := make([]uint16, windows.MAX_LONG_PATH)
	for _, h := range handles {
		var info windows.ModuleInfo
		if err := windows.GetModuleInformation(process, h, &info, uint32(unsafe.Sizeof(info))); err != nil {
			// unloaded meanwhile
			continue
		}
		if err := windows.GetModuleFileNameEx(process, h, &name[0], uint32(len(name))); err != nil {
			continue
		}
		path := windows.UTF16ToString(name)
		mods = append(mods, Module{
			Name: filepath.Base(path),
			Path: path,
			Base: info.BaseOfDll,
			Size: uintptr(info.SizeOfImage),
		})
	}
	return mods, nil
}
