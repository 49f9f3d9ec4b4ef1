// Package exttable implements the external table engine: Lua tables whose
// key/value pairs live outside the guest, reached through a small set of
// host-supplied primitives, with numeric identifiers, a "home" table
// promoted to a global, and a transient "I/O" table used for structured
// parameter passing.
package exttable

// Store is the host-supplied storage backing every external table. A
// single Store instance backs every table a guest creates; tables are
// distinguished only by their numeric id.
type Store interface {
	// Set stores value under key in table id, creating the table lazily on
	// first reference. Implementations must take an independent copy of
	// value — the caller may reuse its backing array.
	Set(id uint32, key string, value []byte) error
	// Get returns the stored value for key in table id. ok is false on a
	// miss or an unknown table id; misses are never errors.
	Get(id uint32, key string) ([]byte, bool)
	// Delete removes key from table id. Deleting a missing key is a no-op
	// and not an error; deleting from an unknown id is also tolerated.
	Delete(id uint32, key string) error
	// Size reports the entry count of table id, or 0 if the table does
	// not exist.
	Size(id uint32) uint32
	// Keys returns every key currently stored in table id. The reference
	// host store returns them in insertion order; other Store
	// implementations may choose any stable order.
	Keys(id uint32) ([]string, error)
}
