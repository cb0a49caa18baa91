// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for containment failures. Callers turn these into the
// structured path_outside_sandbox error kind.
var (
	ErrOutsideRoot = errors.New("path outside sandbox")
	ErrOutsideWork = errors.New("write path outside work/")
)

// ResolveRead resolves path for read access and confines it to root.
// Relative paths are taken relative to root. Symlinks are resolved
// before the containment check so a link cannot escape.
func ResolveRead(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	real, err := Realpath(path)
	if err != nil {
		return "", err
	}
	realRoot, err := Realpath(root)
	if err != nil {
		return "", err
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, real)
	}
	return real, nil
}

// ResolveWrite resolves path for write access and confines it to
// root/work. Relative paths that do not already name work/ are placed
// inside it, so "notes.txt" lands at work/notes.txt.
func ResolveWrite(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		if path != "work" && !strings.HasPrefix(path, "work"+string(os.PathSeparator)) {
			path = filepath.Join("work", path)
		}
		path = filepath.Join(root, path)
	}
	real, err := Realpath(path)
	if err != nil {
		return "", err
	}
	safe, err := Realpath(filepath.Join(root, "work"))
	if err != nil {
		return "", err
	}
	if real != safe && !strings.HasPrefix(real, safe+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWork, real)
	}
	return real, nil
}

// Realpath resolves symlinks for a path that may not exist yet: the
// deepest existing ancestor is resolved and the missing tail is
// rejoined onto it, matching realpath(3) semantics.
func Realpath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	var tail []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if len(tail) == 0 {
				return resolved, nil
			}
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
