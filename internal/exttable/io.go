package exttable

const ioGlobal = "_io"

// ioSubkeys are the only fields clear_io_table removes; the table itself
// is never deallocated.
var ioSubkeys = [...]string{"input", "output", "meta"}

// IO tracks the external table published as `_io`, used for structured
// parameter passing in and out of a compute call without going through
// the scalar-only result frame.
type IO struct {
	registry *Registry
	id       uint32
}

// NewIO allocates a fresh external table and publishes it as `_io`.
func NewIO(r *Registry) *IO {
	id := r.allocID()
	io := &IO{registry: r, id: id}
	r.L.SetGlobal(ioGlobal, r.Resolve(id))
	return io
}

// ID returns the I/O table's id.
func (io *IO) ID() uint32 { return io.id }

// Clear removes the input, output, and meta subkeys, leaving `_io` itself
// reachable and intact.
func (io *IO) Clear() {
	for _, key := range ioSubkeys {
		_ = io.registry.store.Delete(io.id, key)
	}
}
