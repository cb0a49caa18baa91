// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/config"
)

// writeFakeBwrap installs a script that prints every argument it
// receives, one per line, so tests can assert the sandbox flags.
func writeFakeBwrap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bwrap")
	script := "#!/bin/bash\nprintf '%s\\n' \"$@\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunner_WrapsWithBwrapFlags(t *testing.T) {
	r := &Runner{bwrapPath: writeFakeBwrap(t), logger: zaptest.NewLogger(t)}

	res, err := r.Run(context.Background(), []string{"echo", "hi"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "--ro-bind")
	assert.Contains(t, res.Stdout, "--unshare-net")
	assert.Contains(t, res.Stdout, "--unshare-pid")
	assert.Contains(t, res.Stdout, "--die-with-parent")
	assert.Contains(t, res.Stdout, "--\necho\nhi")
}

func TestRunner_AllowNetKeepsNamespace(t *testing.T) {
	r := &Runner{bwrapPath: writeFakeBwrap(t), logger: zaptest.NewLogger(t)}

	res, err := r.Run(context.Background(), []string{"true"}, RunOptions{AllowNet: true})
	require.NoError(t, err)
	assert.NotContains(t, res.Stdout, "--unshare-net")
}

func TestRunner_BindsExistingWritableDirs(t *testing.T) {
	r := &Runner{bwrapPath: writeFakeBwrap(t), logger: zaptest.NewLogger(t)}
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist")

	res, err := r.Run(context.Background(), []string{"true"}, RunOptions{
		WritableDirs: []string{dir, missing},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "--bind")
	assert.NotContains(t, res.Stdout, missing)
}

func TestRunner_PlainFallback(t *testing.T) {
	r := &Runner{logger: zaptest.NewLogger(t)}

	res, err := r.Run(context.Background(),
		[]string{"sh", "-c", "echo out; echo err >&2; exit 3"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunner_BwrapRequiredButMissing(t *testing.T) {
	t.Setenv(config.EnvBwrapRequired, "1")
	r := &Runner{logger: zaptest.NewLogger(t)}

	_, err := r.Run(context.Background(), []string{"true"}, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bubblewrap")
}

func TestRunner_Timeout(t *testing.T) {
	r := &Runner{logger: zaptest.NewLogger(t)}

	res, err := r.Run(context.Background(),
		[]string{"sh", "-c", "echo started; sleep 5"},
		RunOptions{Timeout: 300 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stdout, "started")
}

func TestRunner_MissingBinary(t *testing.T) {
	r := &Runner{logger: zaptest.NewLogger(t)}

	_, err := r.Run(context.Background(), []string{"/nonexistent/treadle-test-bin"}, RunOptions{})
	assert.Error(t, err)
}

func TestRunner_WorkingDir(t *testing.T) {
	r := &Runner{logger: zaptest.NewLogger(t)}
	dir, err := Realpath(t.TempDir())
	require.NoError(t, err)

	res, err := r.Run(context.Background(), []string{"pwd"}, RunOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", res.Stdout)
}

func TestNewRunner_NilLogger(t *testing.T) {
	r := NewRunner(nil)
	require.NotNil(t, r)
	_ = r.Sandboxed()
}
