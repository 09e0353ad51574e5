package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI runs kvlite against a database file in dir and returns stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	base := []string{
		"--config", filepath.Join(dir, "kvlite.yaml"),
		"--file", filepath.Join(dir, "kv.sqlite"),
		"--log-level", "error",
	}
	err := Run(context.Background(), append(base, args...), &out, &errOut)
	return out.String(), err
}

// writeConfig writes the config file runCLI points at.
func writeConfig(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kvlite.yaml"), []byte("log:\n  level: error\n"), 0o644))
}

func TestCLI_SetGet(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	out, err := runCLI(t, dir, "set", "user", `{"name":"ann","age":3}`)
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	out, err = runCLI(t, dir, "get", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ann","age":3}`, out)

	out, err = runCLI(t, dir, "set", "greeting", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	out, err = runCLI(t, dir, "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "\"hello world\"\n", out)

	out, err = runCLI(t, dir, "get", "missing")
	require.NoError(t, err)
	assert.Equal(t, "not_found\n", out)
}

func TestCLI_OneTime(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	_, err := runCLI(t, dir, "set", "--one-time", "token", "secret")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "get", "token")
	require.NoError(t, err)
	assert.Equal(t, "\"secret\"\n", out)

	out, err = runCLI(t, dir, "get", "token")
	require.NoError(t, err)
	assert.Equal(t, "not_found\n", out)
}

func TestCLI_SetexAndTTL(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	_, err := runCLI(t, dir, "setex", "session", "1", "60")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "ttl", "session")
	require.NoError(t, err)
	ms, err := json.Number(strings.TrimSpace(out)).Int64()
	require.NoError(t, err)
	assert.Greater(t, ms, int64(0))
	assert.LessOrEqual(t, ms, int64(60000))

	_, err = runCLI(t, dir, "setex", "bad", "1", "-5")
	assert.Error(t, err)
}

func TestCLI_KeysExistsDelClear(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	for _, key := range []string{"a1", "a2", "b1"} {
		_, err := runCLI(t, dir, "set", key, "1")
		require.NoError(t, err)
	}

	out, err := runCLI(t, dir, "keys", "a%")
	require.NoError(t, err)
	assert.Equal(t, "a1\na2\n", out)

	out, err = runCLI(t, dir, "exists", "b1")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = runCLI(t, dir, "del", "b1")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = runCLI(t, dir, "del", "b1")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)

	_, err = runCLI(t, dir, "clear")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "keys")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCLI_ExportAndInfo(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	_, err := runCLI(t, dir, "set", "k", "42")
	require.NoError(t, err)

	path := filepath.Join(dir, "export.json")
	_, err = runCLI(t, dir, "export", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":42}`, string(data))

	out, err := runCLI(t, dir, "info")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "kv_store", info["table"])
	assert.Equal(t, float64(1), info["key_count"])
	assert.Equal(t, filepath.Join(dir, "kv.sqlite"), info["path"])
}

func TestCLI_Script(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	script := filepath.Join(dir, "seed.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
		local kv = require("kv")
		kv:begin()
		kv:set("x", 1)
		kv:set("y", 2)
		kv:commit()
	`), 0o644))

	_, err := runCLI(t, dir, "script", script)
	require.NoError(t, err)

	out, err := runCLI(t, dir, "keys")
	require.NoError(t, err)
	assert.Equal(t, "x\ny\n", out)
}

func TestCLI_InvalidFlags(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	_, err := runCLI(t, dir, "--storage", "cloud", "keys")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "get")
	assert.Error(t, err, "get requires a key")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(42), parseValue("42"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"a": "b"}, parseValue(`{"a":"b"}`))
	assert.Equal(t, "plain text", parseValue("plain text"))
	assert.Equal(t, "", parseValue(""))
}

func TestCLI_ManualCommit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kvlite.yaml"),
		[]byte("store:\n  auto_commit: false\nlog:\n  level: error\n"), 0o644))

	out, err := runCLI(t, dir, "set", "k", "v")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	out, err = runCLI(t, dir, "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "\"v\"\n", out, "a successful command commits its writes")

	script := filepath.Join(dir, "fail.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
		local kv = require("kv")
		kv:set("partial", 1)
		error("boom")
	`), 0o644))

	_, err = runCLI(t, dir, "script", script)
	require.Error(t, err)

	out, err = runCLI(t, dir, "exists", "partial")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out, "a failed command rolls its writes back")
}
