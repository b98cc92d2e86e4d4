// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build unix

package barrier

import "golang.org/x/sys/unix"

// ThreadID returns the id of the calling OS thread.
func ThreadID() uint32 {
	return uint32(threadID())
}

// ProcessID returns the id of the current process.
func ProcessID() uint32 {
	return uint32(unix.Getpid())
}

// LoaderLock reports false: there is no loader lock to detect.
func LoaderLock() bool {
	return false
}
