package scripting

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// luaToGo maps a Lua value onto the plain Go shapes encoding/json
// understands. Tables with consecutive integer keys from 1 become
// slices, all other tables become string-keyed maps.
func luaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		maxn := v.MaxN()
		if maxn == 0 {
			m := make(map[string]interface{})
			v.ForEach(func(key, val lua.LValue) {
				m[fmt.Sprint(luaToGo(key))] = luaToGo(val)
			})
			return m
		}
		arr := make([]interface{}, 0, maxn)
		for i := 1; i <= maxn; i++ {
			arr = append(arr, luaToGo(v.RawGetInt(i)))
		}
		return arr
	default:
		return v.String()
	}
}

// goToLua maps decoded JSON shapes back onto Lua values.
func goToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []interface{}:
		tbl := L.NewTable()
		for _, elem := range v {
			tbl.Append(goToLua(L, elem))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for key, elem := range v {
			tbl.RawSetString(key, goToLua(L, elem))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(v))
	}
}
