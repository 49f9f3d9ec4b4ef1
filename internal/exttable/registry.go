package exttable

import (
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"luaguest/internal/codec"
)

// HomeBinder is the narrow slice of exttable.Home the registry needs to
// save and rebind the home table id during Snapshot/Restore, without
// importing Home back (Home already depends on Registry).
type HomeBinder interface {
	ID() uint32
	Attach(id uint32)
}

// Registry owns id allocation and the live proxy cache for every external
// table a guest instance has referenced. It implements codec.TableResolver
// so the value codec can encode/decode table references without importing
// this package.
type Registry struct {
	L     *lua.LState
	store Store
	codec *codec.Codec
	home  HomeBinder

	counter uint32
	proxies map[uint32]*lua.LTable

	indexFn    *lua.LFunction
	newindexFn *lua.LFunction
	lenFn      *lua.LFunction
}

// NewRegistry creates a Registry bound to state L, backed by store, and
// wires itself into c as the table resolver for value encode/decode.
// counter starts at 1 so id 0 is free to mean "no home table".
func NewRegistry(L *lua.LState, store Store, c *codec.Codec) *Registry {
	r := &Registry{
		L:       L,
		store:   store,
		codec:   c,
		counter: 1,
		proxies: make(map[uint32]*lua.LTable),
	}
	r.indexFn = L.NewFunction(r.luaIndex)
	r.newindexFn = L.NewFunction(r.luaNewIndex)
	r.lenFn = L.NewFunction(r.luaLen)
	c.SetResolver(r)
	return r
}

// SetHomeBinder wires the home table so Snapshot/Restore can save and
// rebind its id. Called once, after exttable.NewHome has been constructed.
func (r *Registry) SetHomeBinder(h HomeBinder) { r.home = h }

// allocID hands out the next free id and advances the counter by exactly
// one, per the monotonicity rule the constructor must uphold.
func (r *Registry) allocID() uint32 {
	id := r.counter
	r.counter++
	return id
}

// SyncCounter raises the free-id counter to max(current, next); it never
// lowers it.
func (r *Registry) SyncCounter(next uint32) {
	if next > r.counter {
		r.counter = next
	}
}

// raiseCounterPast ensures subsequent allocations never collide with id,
// used when attaching an externally-supplied home id.
func (r *Registry) raiseCounterPast(id uint32) {
	if id >= r.counter {
		r.counter = id + 1
	}
}

// NewTable allocates a fresh id and returns its proxy — the Go side of the
// `ext.table()` constructor.
func (r *Registry) NewTable() *lua.LTable {
	id := r.allocID()
	return r.resolveLocked(id)
}

// Resolve returns the live proxy for id, creating it on first reference.
// Every call for the same id returns the identical *lua.LTable, which is
// what makes `t[k]=u; t[k]==u` hold for external-table-reference values.
func (r *Registry) Resolve(id uint32) *lua.LTable {
	return r.resolveLocked(id)
}

func (r *Registry) resolveLocked(id uint32) *lua.LTable {
	if t, ok := r.proxies[id]; ok {
		return t
	}
	t := r.newProxy(id)
	r.proxies[id] = t
	return t
}

// IdentifyTable reports the external table id carried by t's metatable,
// if t is a proxy this registry produced.
func (r *Registry) IdentifyTable(t *lua.LTable) (uint32, bool) {
	return r.idOf(t)
}

// Install publishes the `ext.table` constructor and overrides `pairs`
// and `ipairs` for external table proxies, whose raw table storage is
// always empty — every real field lives behind the metamethods. `pairs`
// walks the keys primitive's list in its order; `ipairs` reads keys "1",
// "2", ... through Get until the first miss and does not call the keys
// primitive.
func (r *Registry) Install() {
	extTable := r.L.NewTable()
	extTable.RawSetString("table", r.L.NewFunction(func(L *lua.LState) int {
		L.Push(r.NewTable())
		return 1
	}))
	r.L.SetGlobal("ext", extTable)

	originalPairs := r.L.GetGlobal("pairs")
	r.L.SetGlobal("pairs", r.L.NewFunction(func(L *lua.LState) int {
		v := L.CheckAny(1)
		t, ok := v.(*lua.LTable)
		if !ok {
			return r.callOriginal(L, originalPairs)
		}
		id, ok := r.idOf(t)
		if !ok {
			return r.callOriginal(L, originalPairs)
		}
		keys, err := r.store.Keys(id)
		if err != nil {
			L.RaiseError("external table keys failed: %s", err.Error())
			return 0
		}
		i := 0
		iter := L.NewFunction(func(L *lua.LState) int {
			if i >= len(keys) {
				L.Push(lua.LNil)
				return 1
			}
			k := keys[i]
			i++
			raw, hit := r.store.Get(id, k)
			if !hit {
				L.Push(lua.LString(k))
				L.Push(lua.LNil)
				return 2
			}
			val, err := r.codec.Decode(L, raw)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(lua.LString(k))
			L.Push(val)
			return 2
		})
		L.Push(iter)
		L.Push(t)
		L.Push(lua.LNil)
		return 3
	}))

	originalIpairs := r.L.GetGlobal("ipairs")
	r.L.SetGlobal("ipairs", r.L.NewFunction(func(L *lua.LState) int {
		v := L.CheckAny(1)
		t, ok := v.(*lua.LTable)
		if !ok {
			return r.callOriginal(L, originalIpairs)
		}
		if _, ok := r.idOf(t); !ok {
			return r.callOriginal(L, originalIpairs)
		}
		iter := L.NewFunction(func(L *lua.LState) int {
			tbl := L.CheckTable(1)
			idx := L.CheckInt64(2) + 1
			id, _ := r.idOf(tbl)
			raw, hit := r.store.Get(id, formatInt(idx))
			if !hit {
				L.Push(lua.LNil)
				return 1
			}
			val, err := r.codec.Decode(L, raw)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(lua.LNumber(idx))
			L.Push(val)
			return 2
		})
		L.Push(iter)
		L.Push(t)
		L.Push(lua.LNumber(0))
		return 3
	}))

	slog.Info("exttable_registry_installed", "component", "exttable")
}

// Snapshot is the host-visible form of this registry's persisted state:
// every table this registry has resolved in the current session, the
// free-id counter, and the home table id, in the shape spec.md's
// persisted state layout describes.
type Snapshot struct {
	Tables  map[uint32]map[string][]byte
	Counter uint32
	HomeID  uint32
}

// Snapshot captures the current external-table state for host-side
// persistence. Only tables this registry has resolved during the current
// session are captured; a table the host created directly in its own
// store without ever going through ext.table()/Resolve is outside this
// registry's knowledge and must be snapshotted by the host itself.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Tables:  make(map[uint32]map[string][]byte, len(r.proxies)),
		Counter: r.counter,
	}
	if r.home != nil {
		snap.HomeID = r.home.ID()
	}
	for id := range r.proxies {
		keys, err := r.store.Keys(id)
		if err != nil {
			continue
		}
		entries := make(map[string][]byte, len(keys))
		for _, k := range keys {
			if raw, ok := r.store.Get(id, k); ok {
				entries[k] = raw
			}
		}
		snap.Tables[id] = entries
	}
	return snap
}

// Restore replays snap through the exact host-visible sequence spec.md's
// persisted state layout prescribes: repopulate every preserved table via
// Set, raise the free-id counter past the highest preserved id, then
// rebind the home table last.
func (r *Registry) Restore(snap Snapshot) error {
	maxID := uint32(0)
	for id, entries := range snap.Tables {
		for k, v := range entries {
			if err := r.store.Set(id, k, v); err != nil {
				return err
			}
		}
		if id > maxID {
			maxID = id
		}
		r.resolveLocked(id)
	}
	r.SyncCounter(maxID + 1)
	if snap.HomeID != 0 && r.home != nil {
		r.home.Attach(snap.HomeID)
	}
	slog.Info("exttable_restored", "tables", len(snap.Tables), "home_id", snap.HomeID, "component", "exttable")
	return nil
}

func (r *Registry) callOriginal(L *lua.LState, fn lua.LValue) int {
	f, ok := fn.(*lua.LFunction)
	if !ok {
		L.RaiseError("iteration builtin unavailable")
		return 0
	}
	nargs := L.GetTop()
	args := make([]lua.LValue, nargs)
	for i := 1; i <= nargs; i++ {
		args[i-1] = L.Get(i)
	}
	L.Push(f)
	for _, a := range args {
		L.Push(a)
	}
	L.Call(nargs, lua.MultRet)
	return L.GetTop() - nargs
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
