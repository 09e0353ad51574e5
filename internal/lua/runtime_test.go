package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/kvlite/internal/db"
	"github.com/dokzlo13/kvlite/internal/kv"
)

func setupRuntime(t *testing.T) (*Runtime, *kv.Store) {
	t.Helper()

	store := kv.New(db.Options{Storage: db.StorageMemory}, kv.DefaultOptions())
	require.NoError(t, store.Init(context.Background()))

	r := NewRuntime(store)
	t.Cleanup(func() {
		r.Close()
		assert.NoError(t, store.Close())
	})
	return r, store
}

func TestRuntime_SetAndGet(t *testing.T) {
	r, store := setupRuntime(t)
	ctx := context.Background()

	err := r.DoString(ctx, `
		local kv = require("kv")
		assert(kv:set("user", { name = "ann", tags = { "a", "b" } }))
		local v, status = kv:get("user")
		assert(status == "found", status)
		assert(v.name == "ann")
		assert(v.tags[2] == "b")

		local missing, status = kv:get("nope")
		assert(missing == nil)
		assert(status == "not_found", status)
	`)
	require.NoError(t, err)

	result, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ann", "tags": []any{"a", "b"}}, result.Value)
}

func TestRuntime_OneTimeAndTTL(t *testing.T) {
	r, _ := setupRuntime(t)

	err := r.DoString(context.Background(), `
		local kv = require("kv")
		kv:set("token", "secret", { one_time = true })
		assert(kv:exists("token"))
		assert(kv:get("token") == "secret")
		local _, status = kv:get("token")
		assert(status == "not_found", status)

		kv:set("session", 1, { ttl = 60 })
		local ms, status = kv:ttl("session")
		assert(status == "found", status)
		assert(ms > 0 and ms <= 60000)

		kv:set("plain", false)
		local none, status = kv:ttl("plain")
		assert(none == nil and status == "not_found")
		local v, status = kv:get("plain")
		assert(v == false and status == "found")
	`)
	require.NoError(t, err)
}

func TestRuntime_TransactionsAndKeys(t *testing.T) {
	r, store := setupRuntime(t)
	ctx := context.Background()

	err := r.DoString(ctx, `
		local kv = require("kv")
		assert(kv:begin())
		kv:set("a1", 1)
		kv:set("a2", 2)
		kv:set("b1", 3)
		assert(kv:commit())
		assert(kv:commit())

		local keys = kv:keys("a%")
		assert(#keys == 2 and keys[1] == "a1" and keys[2] == "a2")
		assert(kv:delete("a1"))
		assert(not kv:delete("a1"))

		local info = kv:info()
		assert(info.key_count == 2, info.key_count)
		assert(info.table == "kv_store")

		assert(kv:clear())
		assert(#kv:keys() == 0)
		assert(kv:purge() == 0)
	`)
	require.NoError(t, err)
	assert.False(t, store.InTransaction())
}

func TestRuntime_Export(t *testing.T) {
	r, _ := setupRuntime(t)
	path := filepath.Join(t.TempDir(), "export.json")

	err := r.DoString(context.Background(), `
		local kv = require("kv")
		kv:set("k", "v")
		assert(kv:export("`+filepath.ToSlash(path)+`"))
	`)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(data))
}

func TestRuntime_LogModule(t *testing.T) {
	r, _ := setupRuntime(t)

	err := r.DoString(context.Background(), `
		local log = require("log")
		log.debug("debug message")
		log.info("info message", { key = "k", count = 2 })
		log.warn("warn message")
		log.error("error message")
	`)
	require.NoError(t, err)
}

func TestRuntime_RunFile(t *testing.T) {
	r, store := setupRuntime(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		local kv = require("kv")
		for i = 1, 3 do
			kv:set("item:" .. i, i * 10)
		end
	`), 0o644))

	require.NoError(t, r.Run(ctx, path))

	keys, err := store.Keys(ctx, "item:%")
	require.NoError(t, err)
	assert.Equal(t, []string{"item:1", "item:2", "item:3"}, keys)
}

func TestRuntime_ScriptError(t *testing.T) {
	r, _ := setupRuntime(t)

	err := r.DoString(context.Background(), `error("boom")`)
	assert.Error(t, err)

	err = r.Run(context.Background(), filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}

func TestRuntime_UtilsModule(t *testing.T) {
	r, _ := setupRuntime(t)

	err := r.DoString(context.Background(), `
		local utils = require("utils")
		local before = utils.now()
		assert(utils.sleep(5))
		assert(utils.now() >= before + 5)
	`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.DoString(ctx, `
		local utils = require("utils")
		utils.sleep(1000)
	`)
	assert.Error(t, err, "a cancelled run stops the script")
}
