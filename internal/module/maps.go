// Copyright (C) 2022 K2 Cyber Security Inc.

package module

import (
	"bufio"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseMaps reads a /proc/<pid>/maps listing and merges the file backed
// mappings of each path into one module.
func parseMaps(r io.Reader) ([]Module, error) {
	var mods []Module
	index := map[string]int{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		// start-end perms offset dev inode path
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.HasPrefix(path, "/") {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, errors.Errorf("unexpected mapping range %q", fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "unexpected mapping start %q", bounds[0])
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "unexpected mapping end %q", bounds[1])
		}
		i, ok := index[path]
		if !ok {
			index[path] = len(mods)
			mods = append(mods, Module{
				Name: filepath.Base(path),
				Path: path,
				Base: uintptr(start),
				Size: uintptr(end - start),
			})
			continue
		}
		m := &mods[i]
		top := m.Base + m.Size
		if uintptr(start) < m.Base {
			m.Base = uintptr(start)
		}
		if uintptr(end) > top {
			top = uintptr(end)
		}
		m.Size = top - m.Base
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read the memory mappings")
	}
	return mods, nil
}
