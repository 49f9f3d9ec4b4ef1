package exttable

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"luaguest/internal/codec"
)

// metatableSentinel is what getmetatable() reports for an external table
// proxy, blocking script-side inspection or tampering with the real
// metatable that carries the id.
const metatableSentinel = "external table"

// newProxy builds a fresh Lua table standing in for external table id,
// wired to r's shared metamethod closures. The id lives on the metatable,
// under a private key, never on the table itself, so ordinary field
// access and pairs() iteration never see it.
func (r *Registry) newProxy(id uint32) *lua.LTable {
	t := r.L.NewTable()
	mt := r.L.NewTable()
	mt.RawSetString("__index", r.indexFn)
	mt.RawSetString("__newindex", r.newindexFn)
	mt.RawSetString("__len", r.lenFn)
	mt.RawSetString("__metatable", lua.LString(metatableSentinel))
	mt.RawSetString(codec.ExtTableIDKey, lua.LNumber(id))
	r.L.SetMetatable(t, mt)
	return t
}

// idOf reads the external table id off t's real metatable, if any.
func (r *Registry) idOf(t *lua.LTable) (uint32, bool) {
	mt := r.L.GetMetatable(t)
	mtTable, ok := mt.(*lua.LTable)
	if !ok {
		return 0, false
	}
	idVal := mtTable.RawGetString(codec.ExtTableIDKey)
	n, ok := idVal.(lua.LNumber)
	if !ok {
		return 0, false
	}
	return uint32(n), true
}

// keyToString renders a Lua key value the way host storage expects:
// strings verbatim, numbers and booleans via their canonical text form.
// Any other key kind is unsupported.
func keyToString(v lua.LValue) (string, bool) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), true
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10), true
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	case lua.LBool:
		if val {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func (r *Registry) luaIndex(L *lua.LState) int {
	t := L.CheckTable(1)
	key := L.CheckAny(2)

	id, ok := r.idOf(t)
	if !ok {
		L.RaiseError("not an external table")
		return 0
	}
	ks, ok := keyToString(key)
	if !ok {
		L.RaiseError("unsupported key")
		return 0
	}

	raw, hit := r.store.Get(id, ks)
	if !hit {
		L.Push(lua.LNil)
		return 1
	}
	val, err := r.codec.Decode(L, raw)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(val)
	return 1
}

func (r *Registry) luaNewIndex(L *lua.LState) int {
	t := L.CheckTable(1)
	key := L.CheckAny(2)
	value := L.CheckAny(3)

	id, ok := r.idOf(t)
	if !ok {
		L.RaiseError("not an external table")
		return 0
	}
	ks, ok := keyToString(key)
	if !ok {
		L.RaiseError("unsupported key")
		return 0
	}

	if value == lua.LNil {
		if err := r.store.Delete(id, ks); err != nil {
			L.RaiseError("external table delete failed: %s", err.Error())
		}
		return 0
	}

	buf := make([]byte, 65536)
	n, err := r.codec.Encode(value, buf)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if err := r.store.Set(id, ks, buf[:n]); err != nil {
		L.RaiseError("external table set failed: %s", err.Error())
	}
	return 0
}

func (r *Registry) luaLen(L *lua.LState) int {
	t := L.CheckTable(1)
	id, ok := r.idOf(t)
	if !ok {
		L.RaiseError("not an external table")
		return 0
	}
	L.Push(lua.LNumber(r.store.Size(id)))
	return 1
}
