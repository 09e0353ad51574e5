package modules

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// LuaToGo converts a Lua value to a JSON-encodable Go value.
//
// Strings, numbers and booleans map to string, float64 and bool. A table whose
// keys are all positive integers becomes a []any as long as its largest key,
// with holes left nil, so a stored [1, null, 3] reads back the same. Any other
// non-empty table becomes a map[string]any keyed by the string form of each
// key, and an empty table is an empty object. nil maps to nil, and functions
// or userdata to their string form.
func LuaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if n := sequenceLen(val); n > 0 {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = LuaToGo(val.RawGetInt(i))
			}
			return arr
		}

		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = LuaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// sequenceLen returns the largest key when every key is a positive integer, else 0.
func sequenceLen(tbl *lua.LTable) int {
	maxIdx := 0
	sequence := true
	tbl.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != float64(int(num)) || int(num) < 1 {
			sequence = false
			return
		}
		maxIdx = max(maxIdx, int(num))
	})
	if !sequence {
		return 0
	}
	return maxIdx
}

// GoToLuaValue converts a value decoded from stored JSON to Lua.
//
// JSON null becomes nil, numbers become Lua numbers, arrays become tables
// indexed from 1 and objects become tables keyed by field name. Other Go
// types fall back to their fmt representation.
func GoToLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			tbl.RawSetInt(i+1, GoToLuaValue(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, GoToLuaValue(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// luaContext returns the context attached to the LState, or Background.
func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
