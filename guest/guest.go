// Package guest assembles the interpreter, its buffers, and the external
// table engine into the aggregate that mirrors one linear-memory guest
// instance: the interpreter, the counters, and the home id are process-wide
// singletons by necessity here, so they are gathered into this one
// top-level type whose lifetime coincides with the "instance". Multiple
// Guest values compose freely — each is fully independent.
package guest

import (
	"encoding/binary"
	"log/slog"
	"os"
	"runtime"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/semaphore"

	"luaguest/internal/arena"
	"luaguest/internal/codec"
	"luaguest/internal/config"
	"luaguest/internal/errbuf"
	"luaguest/internal/exttable"
	"luaguest/internal/framer"
	"luaguest/internal/interp"
	"luaguest/internal/outbuf"
)

// configureLogOnce ensures the first Guest to initialize configures the
// process-wide slog default handler at its configured level; later Guests
// (even with a different Log.Level) do not re-clobber it, the same way a
// single main() owns slog.SetDefault for the process.
var configureLogOnce sync.Once

// BufferSize is the fixed size of the shared I/O buffer, matching the
// guest ABI's 64 KiB staging area.
const BufferSize = 65536

// outputReserve is the headroom reserved below BufferSize for the output
// capture buffer, leaving room for the 4-byte length prefix, an optional
// "..." overflow marker, and the encoded return value in the result frame.
const outputReserve = 1024

// state is the guest's observable lifecycle position.
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateComputing
)

// Guest is one sandboxed Lua runtime instance: interpreter, I/O buffer,
// output/error capture, the value codec, and the external table engine.
type Guest struct {
	cfg   *config.Config
	state state

	buffer [BufferSize]byte

	L       *lua.LState
	codec   *codec.Codec
	out     *outbuf.Buffer
	errs    *errbuf.Buffer
	arena   *arena.Tracker
	sem     *semaphore.Weighted
	tables  *exttable.Registry
	home    *exttable.Home
	io      *exttable.IO
	store   exttable.Store
}

// New creates an uninitialized Guest backed by store for its external
// tables. Call Init before the first Compute.
func New(store exttable.Store, cfg *config.Config) *Guest {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Guest{
		cfg:   cfg,
		state: stateUninitialized,
		store: store,
		sem:   semaphore.NewWeighted(1),
	}
}

// Init creates the interpreter, installs the sandbox, registers the
// external table engine, and publishes `_home` and `_io`. It is
// idempotent: a second call on an already-Ready guest is a no-op success.
func (g *Guest) Init() int32 {
	if g.state != stateUninitialized {
		return 0
	}

	configureLogOnce.Do(func() {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: g.cfg.Log.SlogLevel()})
		slog.SetDefault(slog.New(handler))
	})

	g.L = interp.New()
	g.codec = codec.New()
	g.out = outbuf.New(BufferSize - outputReserve)
	g.errs = errbuf.New(BufferSize)
	g.arena = arena.NewTracker(g.cfg.Arena.BudgetBytes)
	g.arena.Reserve(BufferSize)                 // I/O buffer
	g.arena.Reserve(BufferSize - outputReserve) // output capture limit
	g.arena.Reserve(BufferSize)                 // error capture limit
	g.tables = exttable.NewRegistry(g.L, g.store, g.codec)
	g.tables.Install()

	interp.InstallPrint(g.L, func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]string, n)
		for i := 1; i <= n; i++ {
			args[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		g.out.Print(args...)
		return 0
	})

	g.home = exttable.NewHome(g.tables, g.cfg.ExternalTable.AliasEnabled)
	g.tables.SetHomeBinder(g.home)
	g.io = exttable.NewIO(g.tables)

	g.state = stateReady
	slog.Info("guest_initialized", "home_id", g.home.ID(), "io_id", g.io.ID(), "component", "guest")
	return 0
}

// Buffer returns the live 64 KiB I/O buffer. Its identity never changes
// across the guest's lifetime, satisfying the buffer-stability invariant.
func (g *Guest) Buffer() []byte { return g.buffer[:] }

// BufferSize always returns 65536.
func (g *Guest) BufferSize() int32 { return BufferSize }

// MemoryStats is the Go analogue of get_memory_stats' three little-endian
// u32 fields.
type MemoryStats struct {
	BufferSize     uint32
	TrackedBytes   uint32
	Pages          uint32
}

// WriteTo writes the wire-compatible 12-byte little-endian form of m.
func (m MemoryStats) WriteTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], m.BufferSize)
	binary.LittleEndian.PutUint32(dst[4:8], m.TrackedBytes)
	binary.LittleEndian.PutUint32(dst[8:12], m.Pages)
}

// MemoryStats reports buffer size, tracked guest-owned bytes, and the
// nominal page count derived from the configured memory budget.
func (g *Guest) MemoryStats() MemoryStats {
	tracked := uint32(0)
	pages := uint32(0)
	if g.arena != nil {
		tracked = g.arena.TrackedBytes()
		pages = g.arena.Pages()
	}
	return MemoryStats{BufferSize: BufferSize, TrackedBytes: tracked, Pages: pages}
}

// RunGC triggers the Go garbage collector as a best-effort analogue of the
// ABI's optional GC hook. It never fails and never touches interpreter
// state.
func (g *Guest) RunGC() {
	runtime.GC()
}

// AttachMemoryTable rebinds `_home` (and its alias, if enabled) to id
// without reallocating. A no-op if the interpreter is absent or id is 0.
func (g *Guest) AttachMemoryTable(id uint32) {
	if g.state == stateUninitialized || g.home == nil {
		return
	}
	g.home.Attach(id)
}

// MemoryTableID returns the current home id, or 0 if none.
func (g *Guest) MemoryTableID() uint32 { return g.home.ID() }

// IOTableID returns the I/O table's id.
func (g *Guest) IOTableID() uint32 {
	if g.io == nil {
		return 0
	}
	return g.io.ID()
}

// ClearIOTable removes the `_io` table's input/output/meta subkeys.
func (g *Guest) ClearIOTable() {
	if g.io != nil {
		g.io.Clear()
	}
}

// SyncExternalTableCounter raises the free-id counter to max(current, next).
func (g *Guest) SyncExternalTableCounter(next uint32) {
	if g.tables != nil {
		g.tables.SyncCounter(next)
	}
}

// SetMemoryAliasEnabled toggles whether the legacy `_memory` global
// tracks `_home`.
func (g *Guest) SetMemoryAliasEnabled(flag bool) {
	if g.home != nil {
		g.home.SetAliasEnabled(flag)
	}
}

// ComputeSource is a convenience overload that copies src into the I/O
// buffer before calling Compute, for callers not staging bytes through
// Buffer() themselves.
func (g *Guest) ComputeSource(src []byte) int32 {
	n := copy(g.buffer[:], src)
	return g.Compute(int32(n))
}

// Compute runs the n bytes currently staged in the I/O buffer through the
// interpreter and writes the result (or error) frame back into the same
// buffer, returning the seven-step contract's signed length.
func (g *Guest) Compute(n int32) (result int32) {
	if n < 0 || n > BufferSize {
		return -1
	}

	if !g.sem.TryAcquire(1) {
		msg := "guest busy: concurrent compute"
		slog.Warn("guest_reentrant_compute_rejected", "component", "guest")
		written, _ := framer.WriteError(g.buffer[:], msg)
		return int32(written)
	}
	defer g.sem.Release(1)

	g.state = stateComputing
	defer func() { g.state = stateReady }()

	// The guest must never panic out through Compute: an unexpected
	// gopher-lua internal panic, or one from a host-registered callback
	// such as the print override, is recovered here and reclassified as a
	// runtime error rather than unwinding into the caller.
	defer func() {
		if r := recover(); r != nil {
			g.errs.SetFromPanic(r)
			slog.Warn("guest_compute_panic_recovered", "component", "guest")
			if g.L != nil {
				g.L.SetTop(0)
			}
			written, _ := framer.WriteError(g.buffer[:], g.errs.Message())
			result = int32(written)
		}
	}()

	g.out.Reset()
	g.errs.Reset()

	if n == 0 {
		return 0
	}

	// Scratch-copy the source out of the shared buffer before the guest
	// starts mutating it; the buffer's contents are garbage from here on
	// until the framer runs.
	scratch := make([]byte, n+1)
	copy(scratch, g.buffer[:n])
	scratch[n] = 0
	source := string(scratch[:n])

	if err := g.L.DoString(source); err != nil {
		g.errs.SetFromCallError(err)
		g.L.SetTop(0)
		slog.Warn("guest_compute_failed", "kind", g.errs.Kind().String(), "component", "guest")
		written, _ := framer.WriteError(g.buffer[:], g.errs.Message())
		return int32(written)
	}

	var top lua.LValue = lua.LNil
	if g.L.GetTop() > 0 {
		top = g.L.Get(-1)
	}

	written, err := framer.WriteSuccess(g.codec, g.buffer[:], g.out.String(), g.out.Truncated(), top)
	if err != nil {
		g.errs.SetFromCodecError(err)
		g.L.SetTop(0)
		slog.Warn("guest_result_encoding_failed", "kind", g.errs.Kind().String(), "component", "guest")
		ewritten, _ := framer.WriteError(g.buffer[:], g.errs.Message())
		return int32(ewritten)
	}

	g.L.SetTop(0)
	return int32(written)
}

// Close releases the interpreter state. Safe to call on an uninitialized
// or already-closed guest.
func (g *Guest) Close() {
	if g.L != nil {
		g.L.Close()
		g.L = nil
		slog.Info("guest_closed", "component", "guest")
	}
	g.state = stateUninitialized
}
