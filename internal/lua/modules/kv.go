package modules

import (
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/kvlite/internal/kv"
)

// KVModule provides the kv module to Lua.
type KVModule struct {
	store *kv.Store
}

// NewKVModule creates a new KV module.
func NewKVModule(store *kv.Store) *KVModule {
	return &KVModule{store: store}
}

// Loader is the module loader for Lua.
func (m *KVModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "exists", L.NewFunction(m.exists))
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	L.SetField(mod, "ttl", L.NewFunction(m.ttl))
	L.SetField(mod, "clear", L.NewFunction(m.clear))
	L.SetField(mod, "begin", L.NewFunction(m.begin))
	L.SetField(mod, "commit", L.NewFunction(m.commit))
	L.SetField(mod, "export", L.NewFunction(m.export))
	L.SetField(mod, "info", L.NewFunction(m.info))
	L.SetField(mod, "purge", L.NewFunction(m.purge))

	L.Push(mod)
	return 1
}

// get(key) -> value | nil, status
func (m *KVModule) get(L *lua.LState) int {
	L.CheckTable(1) // self
	key := L.CheckString(2)

	result, err := m.store.Get(luaContext(L), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to get value")
		L.Push(lua.LNil)
		L.Push(lua.LString("error"))
		return 2
	}

	if !result.Found() {
		L.Push(lua.LNil)
	} else {
		L.Push(GoToLuaValue(L, result.Value))
	}
	L.Push(lua.LString(result.Status.String()))
	return 2
}

// set(key, value, opts) -> bool
// opts: { one_time = true/false, ttl = seconds }
func (m *KVModule) set(L *lua.LState) int {
	L.CheckTable(1) // self
	key := L.CheckString(2)
	value := LuaToGo(L.Get(3))

	var (
		oneTime bool
		ttl     time.Duration
	)
	if opts := L.OptTable(4, nil); opts != nil {
		oneTime = lua.LVAsBool(L.GetField(opts, "one_time"))
		if n, ok := L.GetField(opts, "ttl").(lua.LNumber); ok {
			ttl = time.Duration(float64(n) * float64(time.Second))
		}
	}

	ctx := luaContext(L)
	var err error
	switch {
	case ttl > 0:
		err = m.store.SetWithExpiry(ctx, key, value, ttl)
	case oneTime:
		err = m.store.Set(ctx, key, value, kv.OneTime())
	default:
		err = m.store.Set(ctx, key, value)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to store value")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LTrue)
	return 1
}

// delete(key) -> bool
func (m *KVModule) delete(L *lua.LState) int {
	L.CheckTable(1) // self
	key := L.CheckString(2)

	deleted, err := m.store.Delete(luaContext(L), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete key")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LBool(deleted))
	return 1
}

// exists(key) -> bool
func (m *KVModule) exists(L *lua.LState) int {
	L.CheckTable(1) // self
	key := L.CheckString(2)

	exists, err := m.store.Exists(luaContext(L), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to check key existence")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LBool(exists))
	return 1
}

// keys(pattern) -> table
func (m *KVModule) keys(L *lua.LState) int {
	L.CheckTable(1) // self
	pattern := L.OptString(2, "")

	keys, err := m.store.Keys(luaContext(L), pattern)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("Failed to list keys")
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, key := range keys {
		tbl.RawSetInt(i+1, lua.LString(key))
	}

	L.Push(tbl)
	return 1
}

// ttl(key) -> milliseconds | nil, status
func (m *KVModule) ttl(L *lua.LState) int {
	L.CheckTable(1) // self
	key := L.CheckString(2)

	result, err := m.store.TTL(luaContext(L), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to get ttl")
		L.Push(lua.LNil)
		L.Push(lua.LString("error"))
		return 2
	}

	if result.Status == kv.StatusFound {
		L.Push(lua.LNumber(result.Millis()))
	} else {
		L.Push(lua.LNil)
	}
	L.Push(lua.LString(result.Status.String()))
	return 2
}

// clear() -> bool
func (m *KVModule) clear(L *lua.LState) int {
	L.CheckTable(1) // self

	if err := m.store.Clear(luaContext(L)); err != nil {
		log.Warn().Err(err).Msg("Failed to clear store")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LTrue)
	return 1
}

// begin() -> bool
func (m *KVModule) begin(L *lua.LState) int {
	L.CheckTable(1) // self

	if err := m.store.BeginTransaction(luaContext(L)); err != nil {
		log.Warn().Err(err).Msg("Failed to begin transaction")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LTrue)
	return 1
}

// commit() -> bool
func (m *KVModule) commit(L *lua.LState) int {
	L.CheckTable(1) // self

	if err := m.store.CommitTransaction(luaContext(L)); err != nil {
		log.Warn().Err(err).Msg("Failed to commit transaction")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LTrue)
	return 1
}

// export(path) -> bool
func (m *KVModule) export(L *lua.LState) int {
	L.CheckTable(1) // self
	path := L.OptString(2, "")

	ok, err := m.store.ExportJSON(luaContext(L), path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to export store")
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LBool(ok))
	return 1
}

// info() -> table | nil
func (m *KVModule) info(L *lua.LState) int {
	L.CheckTable(1) // self

	info, err := m.store.Info(luaContext(L))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get store info")
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	L.SetField(tbl, "journal_mode", lua.LString(info.JournalMode))
	L.SetField(tbl, "path", lua.LString(info.Path))
	L.SetField(tbl, "filename", lua.LString(info.Filename))
	L.SetField(tbl, "table", lua.LString(info.Table))
	L.SetField(tbl, "file_size", lua.LNumber(info.FileSize))
	L.SetField(tbl, "key_count", lua.LNumber(info.KeyCount))
	L.SetField(tbl, "wal_exists", lua.LBool(info.WALExists))

	L.Push(tbl)
	return 1
}

// purge() -> number of removed records
func (m *KVModule) purge(L *lua.LState) int {
	L.CheckTable(1) // self

	count, err := m.store.PurgeExpired(luaContext(L))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to purge expired keys")
		L.Push(lua.LNumber(0))
		return 1
	}

	L.Push(lua.LNumber(count))
	return 1
}
