// Copyright (C) 2022 K2 Cyber Security Inc.

package stub

// build64 emits the x64 trampoline. The intro is called as
// intro(handle, retAddr, addrOfRetAddr) and returns the handler to run or
// zero, the outro as outro(handle, addrOfRetAddr). Both follow the Windows
// x64 calling convention. Argument registers and xmm0-3 survive the intro,
// rax and xmm0 survive the outro.
func build64(a *asm, block uintptr) {
	l := Layout64

	// lock inc qword [IsExecuted]
	a.emit(0xf0, 0x48, 0xff, 0x05)
	a.rip(block+l.IsExecuted, 0)
	// cmp qword [HookProc], 0
	a.emit(0x48, 0x83, 0x3d)
	a.rip(block+l.HookProc, 1)
	a.emit(0x00)
	// je orig
	a.emit(0x0f, 0x84)
	a.rel32("orig", 0)

	// push rcx; push rdx; push r8; push r9; sub rsp, 0x68
	a.emit(0x51, 0x52, 0x41, 0x50, 0x41, 0x51)
	a.emit(0x48, 0x83, 0xec, 0x68)
	// movups [rsp+0x20+i*0x10], xmm<i>
	a.emit(0x0f, 0x11, 0x44, 0x24, 0x20)
	a.emit(0x0f, 0x11, 0x4c, 0x24, 0x30)
	a.emit(0x0f, 0x11, 0x54, 0x24, 0x40)
	a.emit(0x0f, 0x11, 0x5c, 0x24, 0x50)
	// mov rcx, [Handle]
	a.emit(0x48, 0x8b, 0x0d)
	a.rip(block+l.Handle, 0)
	// lea r8, [rsp+0x88]; mov rdx, [r8]
	a.emit(0x4c, 0x8d, 0x84, 0x24, 0x88, 0x00, 0x00, 0x00)
	a.emit(0x49, 0x8b, 0x10)
	// call [Intro]
	a.emit(0xff, 0x15)
	a.rip(block+l.Intro, 0)
	// mov r11, rax
	a.emit(0x49, 0x89, 0xc3)
	// movups xmm<i>, [rsp+0x20+i*0x10]
	a.emit(0x0f, 0x10, 0x44, 0x24, 0x20)
	a.emit(0x0f, 0x10, 0x4c, 0x24, 0x30)
	a.emit(0x0f, 0x10, 0x54, 0x24, 0x40)
	a.emit(0x0f, 0x10, 0x5c, 0x24, 0x50)
	// add rsp, 0x68; pop r9; pop r8; pop rdx; pop rcx
	a.emit(0x48, 0x83, 0xc4, 0x68)
	a.emit(0x41, 0x59, 0x41, 0x58, 0x5a, 0x59)
	// test r11, r11; jz orig
	a.emit(0x4d, 0x85, 0xdb)
	a.emit(0x0f, 0x84)
	a.rel32("orig", 0)
	// lea r10, [exit]; mov [rsp], r10; jmp r11
	a.emit(0x4c, 0x8d, 0x15)
	a.rel32("exit", 0)
	a.emit(0x4c, 0x89, 0x14, 0x24)
	a.emit(0x41, 0xff, 0xe3)

	a.label("orig")
	// lock dec qword [IsExecuted]
	a.emit(0xf0, 0x48, 0xff, 0x0d)
	a.rip(block+l.IsExecuted, 0)
	// jmp [OldProc]
	a.emit(0xff, 0x25)
	a.rip(block+l.OldProc, 0)

	a.label("exit")
	// push 0; push rax; sub rsp, 0x30; movups [rsp+0x20], xmm0
	a.emit(0x6a, 0x00)
	a.emit(0x50)
	a.emit(0x48, 0x83, 0xec, 0x30)
	a.emit(0x0f, 0x11, 0x44, 0x24, 0x20)
	// mov rcx, [Handle]; lea rdx, [rsp+0x38]
	a.emit(0x48, 0x8b, 0x0d)
	a.rip(block+l.Handle, 0)
	a.emit(0x48, 0x8d, 0x54, 0x24, 0x38)
	// call [Outro]
	a.emit(0xff, 0x15)
	a.rip(block+l.Outro, 0)
	// movups xmm0, [rsp+0x20]; add rsp, 0x30; pop rax
	a.emit(0x0f, 0x10, 0x44, 0x24, 0x20)
	a.emit(0x48, 0x83, 0xc4, 0x30)
	a.emit(0x58)
	// lock dec qword [IsExecuted]
	a.emit(0xf0, 0x48, 0xff, 0x0d)
	a.rip(block+l.IsExecuted, 0)
	// ret
	a.emit(0xc3)
}
