// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"os"

	"github.com/k2io/lochook/internal/status"
)

func enum() ([]Module, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "cannot list the loaded modules")
	}
	defer f.Close()
	mods, err := parseMaps(f)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "cannot list the loaded modules")
	}
	return mods, nil
}
