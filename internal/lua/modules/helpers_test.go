package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func evalTable(t *testing.T, L *lua.LState, src string) lua.LValue {
	t.Helper()
	require.NoError(t, L.DoString("result = "+src))
	return L.GetGlobal("result")
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		src  string
		want any
	}{
		{"string", `"hi"`, "hi"},
		{"number", `4.5`, 4.5},
		{"boolean", `false`, false},
		{"nil", `nil`, nil},
		{"sequence", `{ "a", "b" }`, []any{"a", "b"}},
		{"holes stay nil", `{ [1] = 1, [3] = 3 }`, []any{float64(1), nil, float64(3)}},
		{"object", `{ name = "ann" }`, map[string]any{"name": "ann"}},
		{"mixed keys", `{ 1, x = 2 }`, map[string]any{"1": float64(1), "x": float64(2)}},
		{"fractional keys", `{ [1.5] = true }`, map[string]any{"1.5": true}},
		{"empty", `{}`, map[string]any{}},
		{"nested", `{ tags = { "a" } }`, map[string]any{"tags": []any{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LuaToGo(evalTable(t, L, tt.src)))
		})
	}
}

func TestGoToLuaValue(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	value := map[string]any{
		"name": "ann",
		"tags": []any{"a", nil, "c"},
		"age":  float64(3),
	}

	tbl, ok := GoToLuaValue(L, value).(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LString("ann"), tbl.RawGetString("name"))
	assert.Equal(t, lua.LNumber(3), tbl.RawGetString("age"))
	assert.Equal(t, lua.LNil, GoToLuaValue(L, nil))

	tags, ok := tbl.RawGetString("tags").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LString("c"), tags.RawGetInt(3))

	assert.Equal(t, value, LuaToGo(tbl), "decoded JSON survives a trip through Lua")
}
