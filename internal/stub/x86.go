// Copyright (C) 2022 K2 Cyber Security Inc.

package stub

// build32 emits the x86 trampoline. The intro and outro are stdcall
// functions with the same arguments as on x64. ecx and edx survive the
// intro, eax and edx survive the outro.
func build32(a *asm, block uintptr) {
	l := Layout32
	field := func(off uintptr) {
		a.u32(uint32(block + off))
	}

	// lock inc dword [IsExecuted]
	a.emit(0xf0, 0xff, 0x05)
	field(l.IsExecuted)
	// cmp dword [HookProc], 0
	a.emit(0x83, 0x3d)
	field(l.HookProc)
	a.emit(0x00)
	// je orig
	a.emit(0x0f, 0x84)
	a.rel32("orig", 0)

	// push ecx; push edx
	a.emit(0x51, 0x52)
	// lea eax, [esp+8]; push eax; push dword [eax]
	a.emit(0x8d, 0x44, 0x24, 0x08)
	a.emit(0x50)
	a.emit(0xff, 0x30)
	// push dword [Handle]
	a.emit(0xff, 0x35)
	field(l.Handle)
	// call [Intro]
	a.emit(0xff, 0x15)
	field(l.Intro)
	// pop edx; pop ecx
	a.emit(0x5a, 0x59)
	// test eax, eax; jz orig
	a.emit(0x85, 0xc0)
	a.emit(0x0f, 0x84)
	a.rel32("orig", 0)
	// mov dword [esp], exit; jmp eax
	a.emit(0xc7, 0x04, 0x24)
	a.abs32("exit")
	a.emit(0xff, 0xe0)

	a.label("orig")
	// lock dec dword [IsExecuted]
	a.emit(0xf0, 0xff, 0x0d)
	field(l.IsExecuted)
	// jmp [OldProc]
	a.emit(0xff, 0x25)
	field(l.OldProc)

	a.label("exit")
	// push 0; push eax; push edx
	a.emit(0x6a, 0x00)
	a.emit(0x50)
	a.emit(0x52)
	// lea ecx, [esp+8]; push ecx
	a.emit(0x8d, 0x4c, 0x24, 0x08)
	a.emit(0x51)
	// push dword [Handle]
	a.emit(0xff, 0x35)
	field(l.Handle)
	// call [Outro]
	a.emit(0xff, 0x15)
	field(l.Outro)
	// pop edx; pop eax
	a.emit(0x5a, 0x58)
	// lock dec dword [IsExecuted]
	a.emit(0xf0, 0xff, 0x0d)
	field(l.IsExecuted)
	// ret
	a.emit(0xc3)
}
