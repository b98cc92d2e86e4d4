// Copyright (C) 2022 K2 Cyber Security Inc.

package barrier

import "golang.org/x/sys/unix"

func threadID() int {
	return unix.Gettid()
}
