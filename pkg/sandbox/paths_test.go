// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realRoot(t *testing.T) string {
	t.Helper()
	root, err := Realpath(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestResolveRead_RelativeInsideRoot(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.txt"), []byte("x"), 0o644))

	got, err := ResolveRead(root, "data.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data.txt"), got)
}

func TestResolveRead_RootItself(t *testing.T) {
	root := realRoot(t)
	got, err := ResolveRead(root, ".")
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestResolveRead_AbsoluteOutside(t *testing.T) {
	root := realRoot(t)
	_, err := ResolveRead(root, "/etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	assert.Contains(t, err.Error(), "path outside sandbox")
}

func TestResolveRead_TraversalBlocked(t *testing.T) {
	root := realRoot(t)
	_, err := ResolveRead(root, "../sibling.txt")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestResolveRead_SymlinkEscape(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.Symlink("/etc", filepath.Join(root, "link")))

	_, err := ResolveRead(root, filepath.Join("link", "passwd"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestResolveWrite_DefaultsIntoWork(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "work"), 0o755))

	got, err := ResolveWrite(root, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "work", "notes.txt"), got)
}

func TestResolveWrite_WorkPrefixNotDoubled(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "work"), 0o755))

	got, err := ResolveWrite(root, filepath.Join("work", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "work", "notes.txt"), got)
}

func TestResolveWrite_AbsoluteOutsideWork(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "work"), 0o755))

	_, err := ResolveWrite(root, filepath.Join(root, "config.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideWork)
	assert.Contains(t, err.Error(), "write path outside work/")
}

func TestResolveWrite_TraversalBlocked(t *testing.T) {
	root := realRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "work"), 0o755))

	// work/../escape.txt cleans to root/escape.txt, outside work.
	// filepath.Join would pre-clean the traversal away, so build the
	// path from slashes to keep the ".." intact.
	_, err := ResolveWrite(root, filepath.FromSlash("work/../escape.txt"))
	assert.ErrorIs(t, err, ErrOutsideWork)
}

func TestRealpath_MissingTail(t *testing.T) {
	root := realRoot(t)
	got, err := Realpath(filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), got)
}

func TestRealpath_ResolvesLinkedAncestor(t *testing.T) {
	root := realRoot(t)
	target := filepath.Join(root, "target")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "alias")))

	got, err := Realpath(filepath.Join(root, "alias", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target, "new.txt"), got)
}
