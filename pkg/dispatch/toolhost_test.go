// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/config"
)

// writeFakeHost creates an executable script standing in for the native
// tool-host binary.
func writeFakeHost(t *testing.T, script string) *Host {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "treadle_toolhost")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+script+"\n"), 0o755))
	return NewHost(path, dir, zaptest.NewLogger(t))
}

func TestHost_Run(t *testing.T) {
	host := writeFakeHost(t, `echo '{"status":"OK","output_json":"hello from host","error":""}'`)

	out, derr := host.Run(context.Background(), "GPU.SMOKE.v1", map[string]interface{}{"x": 1})
	require.Nil(t, derr)
	assert.Equal(t, "hello from host", out)
}

func TestHost_RunObjectOutput(t *testing.T) {
	host := writeFakeHost(t, `echo '{"status":"OK","output_json":{"temp_c":41,"ok":true}}'`)

	out, derr := host.Run(context.Background(), "GPU.METRICS.v1", nil)
	require.Nil(t, derr)
	assert.Contains(t, out, `"temp_c":41`)
}

func TestHost_FirstLineIsEnvelope(t *testing.T) {
	host := writeFakeHost(t, `echo '{"status":"OK","output_json":"done"}'
echo 'debug chatter that is not JSON'`)

	out, derr := host.Run(context.Background(), "ERROR_SCAN.v1", nil)
	require.Nil(t, derr)
	assert.Equal(t, "done", out)
}

func TestHost_RequestEnvelope(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "captured")
	host := writeFakeHost(t, fmt.Sprintf(`echo "$1 $2" > %s.args
cat > %s.stdin
echo '{"status":"OK","output_json":"captured"}'`, capture, capture))

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1",
		map[string]interface{}{"device": "cuda:0"})
	require.Nil(t, derr)

	args, err := os.ReadFile(capture + ".args")
	require.NoError(t, err)
	assert.Equal(t, "tool_exec GPU.SMOKE.v1\n", string(args))

	stdin, err := os.ReadFile(capture + ".stdin")
	require.NoError(t, err)
	assert.Contains(t, string(stdin), `"input_json"`)
	assert.Contains(t, string(stdin), `"ds_state"`)
	assert.Contains(t, string(stdin), `cuda:0`)
}

func TestHost_ToolError(t *testing.T) {
	host := writeFakeHost(t, `echo '{"status":"ERR_TOOL","output_json":"","error":"device not present"}'`)

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindToolError, derr.Kind)
	assert.Equal(t, "device not present", derr.Detail)
}

func TestHost_MalformedEnvelope(t *testing.T) {
	host := writeFakeHost(t, `echo 'not json at all'`)

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindParseError, derr.Kind)
	assert.Contains(t, derr.Detail, "not json at all")
}

func TestHost_EmptyOutput(t *testing.T) {
	host := writeFakeHost(t, `true`)

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindEmptyOutput, derr.Kind)
}

func TestHost_Crash(t *testing.T) {
	host := writeFakeHost(t, `echo "partial work"
echo "segfault imminent" >&2
exit 3`)

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindCrash, derr.Kind)
	assert.Contains(t, derr.Detail, "segfault imminent")
	assert.Contains(t, derr.Detail, "partial work")
}

func TestHost_MissingBinary(t *testing.T) {
	host := NewHost(filepath.Join(t.TempDir(), "nope"), t.TempDir(), zaptest.NewLogger(t))
	assert.False(t, host.Available())

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindNotFound, derr.Kind)
}

func TestHost_Timeout(t *testing.T) {
	t.Setenv(config.EnvSubprocessTimeout, "1")
	host := writeFakeHost(t, `sleep 5
echo '{"status":"OK","output_json":"too late"}'`)

	_, derr := host.Run(context.Background(), "GPU.SMOKE.v1", nil)
	require.NotNil(t, derr)
	assert.Equal(t, KindTimeout, derr.Kind)
	assert.Contains(t, derr.Detail, "1s")
}

func TestHostTool_Execute(t *testing.T) {
	host := writeFakeHost(t, `echo '{"status":"OK","output_json":"probe ok"}'`)
	tool := NewHostTool("GPU.SMOKE.v1", "gpu probe", nil, []string{"gpu_probe"}, host)

	assert.Equal(t, "GPU.SMOKE.v1", tool.Name())
	assert.Equal(t, BackendToolhost, tool.Backend())
	assert.Equal(t, []string{"gpu_probe"}, tool.SideEffects())

	result, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, result.IsError())
	assert.Equal(t, "probe ok", result.Output)
}
