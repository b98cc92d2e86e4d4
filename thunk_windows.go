// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"sync"

	"golang.org/x/sys/windows"
)

var thunks struct {
	once         sync.Once
	intro, outro uintptr
}

// defaultThunks returns native callbacks forwarding the stub calls to the
// engine owning the hook page. The runtime limits the number of callbacks,
// so they are created once and shared by every engine.
func defaultThunks() (intro, outro uintptr) {
	thunks.once.Do(func() {
		thunks.intro = windows.NewCallback(dispatchIntro)
		thunks.outro = windows.NewCallback(dispatchOutro)
	})
	return thunks.intro, thunks.outro
}
