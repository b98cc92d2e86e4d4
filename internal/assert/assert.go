// Copyright (C) 2022 K2 Cyber Security Inc.

// Package assert checks invariants whose violation leaves the process in an
// unrecoverable state: a hooked call cannot return to its caller. Failures
// are reported then terminate the process.
package assert

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ExitCode is the process exit status of a failed assertion.
const ExitCode = 3

// Abort is called with the assertion error. It must not return; by default
// it prints the error with its stack trace and exits with ExitCode.
type Abort func(err error)

var abort atomic.Value

func init() {
	abort.Store(Abort(defaultAbort))
}

func defaultAbort(err error) {
	fmt.Fprintf(os.Stderr, "lochook: fatal: %+v\n", err)
	os.Exit(ExitCode)
}

// SetAbort replaces the abort function and returns the previous one. A nil
// value restores the default.
func SetAbort(f Abort) Abort {
	if f == nil {
		f = defaultAbort
	}
	return abort.Swap(f).(Abort)
}

// True aborts when c is false. msg describes the invariant.
func True(c bool, msg string) {
	if !c {
		fail(errors.New("assert: " + msg))
	}
}

// NoError aborts when err is not nil.
func NoError(err error, msg string) {
	if err != nil {
		fail(errors.Wrap(err, "assert: "+msg))
	}
}

func fail(err error) {
	abort.Load().(Abort)(err)
}
