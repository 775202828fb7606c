package scripting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"
)

func TestGoToLuaScalars(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	assert.Equal(t, lua.LNil, goToLua(L, nil))
	assert.Equal(t, lua.LBool(true), goToLua(L, true))
	assert.Equal(t, lua.LNumber(42), goToLua(L, float64(42)))
	assert.Equal(t, lua.LString("word"), goToLua(L, "word"))
}

func TestLuaToGoTableShapes(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, L.DoString(`
		arr = {1, 2, 3}
		obj = {word = "lantern", turn = 2}
		nested = {moves = {"a", "b"}, done = false}
	`))

	assert.Equal(t, []any{1.0, 2.0, 3.0}, luaToGo(L.GetGlobal("arr")))
	assert.Equal(t, map[string]any{"word": "lantern", "turn": 2.0}, luaToGo(L.GetGlobal("obj")))
	assert.Equal(t, map[string]any{
		"moves": []any{"a", "b"},
		"done":  false,
	}, luaToGo(L.GetGlobal("nested")))
}

func TestRoundTripPreservesJSONValues(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		L := lua.NewState()
		defer L.Close()

		obj := map[string]any{
			"name":  rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "name"),
			"score": float64(rapid.IntRange(-1000, 1000).Draw(t, "score")),
			"alive": rapid.Bool().Draw(t, "alive"),
		}

		back := luaToGo(goToLua(L, obj))
		got, err := json.Marshal(back)
		require.NoError(t, err)
		want, err := json.Marshal(obj)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
	})
}

func TestTableHelpers(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, L.DoString(`
		eff = {type = "broadcast", exclude = {"a", "b"}}
	`))
	tbl := L.GetGlobal("eff").(*lua.LTable)

	assert.Equal(t, "broadcast", tableString(tbl, "type", ""))
	assert.Equal(t, "fallback", tableString(tbl, "missing", "fallback"))
	assert.Equal(t, []string{"a", "b"}, tableStrings(tbl, "exclude"))
	assert.Nil(t, tableStrings(tbl, "missing"))
}
