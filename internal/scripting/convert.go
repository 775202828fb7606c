package scripting

import (
	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a decoded JSON value into its Lua representation. Maps
// become tables with string keys, slices become array tables, numbers become
// LNumber. Unknown types map to LNil.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for key, item := range val {
			tbl.RawSetString(key, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value back into a JSON-marshallable Go value.
// Tables with contiguous 1..n integer keys become slices, all other tables
// become string-keyed maps.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		val.ForEach(func(key, item lua.LValue) {
			if s, ok := key.(lua.LString); ok {
				obj[string(s)] = luaToGo(item)
			}
		})
		return obj
	default:
		return nil
	}
}

// tableString reads a string field from a Lua table, or returns fallback.
func tableString(tbl *lua.LTable, key, fallback string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return fallback
}

// tableStrings reads an array of strings from a Lua table field.
func tableStrings(tbl *lua.LTable, key string) []string {
	arr, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([]string, 0, arr.Len())
	for i := 1; i <= arr.Len(); i++ {
		if s, ok := arr.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}
