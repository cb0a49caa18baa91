// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// GzipFile compresses path into path+".gz" and removes the original.
// Returns the compressed file's path.
func GzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("gzip open: %w", err)
	}
	defer func() { _ = src.Close() }()

	dstPath := path + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("gzip create: %w", err)
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		_ = gw.Close()
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("gzip copy: %w", err)
	}
	if err := gw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("gzip flush: %w", err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("gzip sync: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return dstPath, fmt.Errorf("gzip remove original: %w", err)
	}
	return dstPath, nil
}

// GunzipFile decompresses path (a .gz file) next to itself, dropping
// the .gz suffix. The compressed file is left in place.
func GunzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("gunzip open: %w", err)
	}
	defer func() { _ = src.Close() }()

	gr, err := gzip.NewReader(src)
	if err != nil {
		return "", fmt.Errorf("gunzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	dstPath := path
	if len(dstPath) > 3 && dstPath[len(dstPath)-3:] == ".gz" {
		dstPath = dstPath[:len(dstPath)-3]
	} else {
		dstPath += ".out"
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("gunzip create: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, gr); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("gunzip copy: %w", err)
	}
	return dstPath, nil
}
