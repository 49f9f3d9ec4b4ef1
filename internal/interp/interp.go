// Package interp owns interpreter lifecycle and sandbox installation:
// state create/close, library loading, and the global-stripping pass that
// keeps scripts off the filesystem and the network. It is not the only
// importer of gopher-lua: codec, exttable, errbuf, framer and guest use
// its API directly as well.
package interp

import (
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

// dangerousGlobals can load or execute code from outside the script that
// was handed to compute; none of them belong in a sandboxed guest.
var dangerousGlobals = []string{"dofile", "loadfile", "load", "loadstring"}

// safeLoadedModules survive the package.loaded pruning pass below; every
// other preloaded module is dropped so require() cannot reach it.
var safeLoadedModules = map[string]bool{
	"_G": true, "string": true, "table": true, "math": true,
	"bit32": true, "utf8": true, "package": true,
}

// New creates a sandboxed interpreter state: the full standard library is
// opened and then pared back, rather than opened piecemeal, because
// gopher-lua's OpenLibs wires cross-library dependencies (string
// metatables, package.loaded bookkeeping) that are easiest to get right by
// letting it run once and then removing what a sandboxed guest must not
// expose.
func New() *lua.LState {
	L := lua.NewState()
	Sandbox(L)
	slog.Info("interp_state_created", "component", "interp")
	return L
}

// Sandbox strips filesystem, process, and dynamic-load access from L.
// Grounded on the pattern of stripping dangerous globals and pruning
// package.loaded to a fixed whitelist, with no capability escape hatch:
// this guest has no "unsafe" mode.
func Sandbox(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)

	for _, name := range dangerousGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	pkg := L.GetGlobal("package")
	pkgTable, ok := pkg.(*lua.LTable)
	if !ok {
		return
	}
	L.SetField(pkgTable, "path", lua.LString(""))
	L.SetField(pkgTable, "cpath", lua.LString(""))

	loaded, ok := L.GetField(pkgTable, "loaded").(*lua.LTable)
	if !ok {
		return
	}
	var stale []string
	loaded.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok && !safeLoadedModules[string(ks)] {
			stale = append(stale, string(ks))
		}
	})
	for _, name := range stale {
		loaded.RawSetString(name, lua.LNil)
	}
	slog.Info("interp_sandbox_installed", "pruned_modules", len(stale), "component", "interp")
}

// InstallPrint replaces the global `print` with fn, the standard
// sandbox-friendly way to redirect script output into a capture buffer
// instead of any real standard output.
func InstallPrint(L *lua.LState, fn lua.LGFunction) {
	L.SetGlobal("print", L.NewFunction(fn))
}
