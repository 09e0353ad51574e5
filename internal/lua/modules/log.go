package modules

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule routes Lua log calls to zerolog
type LogModule struct{}

// NewLogModule creates a new log module
func NewLogModule() *LogModule {
	return &LogModule{}
}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.emitter(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.emitter(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.emitter(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.emitter(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

// emitter returns a Lua function log.<level>(msg, fields)
func (m *LogModule) emitter(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				event = event.Interface(lua.LVAsString(key), LuaToGo(value))
			})
		}
		event.Msg(msg)

		return 0
	}
}
