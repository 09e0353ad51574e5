package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// UtilsModule provides clock helpers to Lua
type UtilsModule struct {
	now func() time.Time
}

// NewUtilsModule creates a new utils module. A nil now uses time.Now.
func NewUtilsModule(now func() time.Time) *UtilsModule {
	if now == nil {
		now = time.Now
	}
	return &UtilsModule{now: now}
}

// Loader is the module loader for Lua
func (m *UtilsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "sleep", L.NewFunction(m.sleep))
	L.SetField(mod, "now", L.NewFunction(m.nowMillis))

	L.Push(mod)
	return 1
}

// sleep(ms) blocks the script for ms milliseconds, or until the run is cancelled.
// Returns false if cancelled.
func (m *UtilsModule) sleep(L *lua.LState) int {
	ms := L.CheckInt(1)

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		L.Push(lua.LTrue)
	case <-luaContext(L).Done():
		L.Push(lua.LFalse)
	}
	return 1
}

// now() returns the current time as unix milliseconds
func (m *UtilsModule) nowMillis(L *lua.LState) int {
	L.Push(lua.LNumber(m.now().UnixMilli()))
	return 1
}
