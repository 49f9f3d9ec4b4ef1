// Package arena models the byte-budget bookkeeping the guest ABI's
// get_memory_stats export reports. The embedded interpreter
// (github.com/yuin/gopher-lua) allocates through the Go garbage collector,
// not a pluggable allocator hook, so there is no bump/arena allocator left
// to reimplement for it; what remains is tracking the guest-owned regions
// (I/O, output, and error buffers) and deriving a nominal WASM page count
// from a configured memory budget.
package arena

// PageSize matches the guest's I/O buffer size and the wire convention for
// a WASM linear-memory page in this runtime's ABI.
const PageSize = 65536

// Tracker accounts for guest-owned byte regions and reports the figures
// get_memory_stats exposes.
type Tracker struct {
	budgetBytes int64
	tracked     int64
}

// NewTracker creates a Tracker against a nominal memory budget. A budget
// smaller than one page is rounded up to one page.
func NewTracker(budgetBytes int64) *Tracker {
	if budgetBytes < PageSize {
		budgetBytes = PageSize
	}
	return &Tracker{budgetBytes: budgetBytes}
}

// Reserve records n additional bytes as tracked (e.g. a buffer allocation).
func (t *Tracker) Reserve(n int) {
	t.tracked += int64(n)
}

// Release removes n bytes from the tracked total. It never goes negative.
func (t *Tracker) Release(n int) {
	t.tracked -= int64(n)
	if t.tracked < 0 {
		t.tracked = 0
	}
}

// TrackedBytes returns the bytes currently tracked through Reserve/Release.
// This stands in for get_memory_stats' "tracked interpreter bytes" field;
// the interpreter's own heap usage is intentionally reported as 0 (the
// source documents this field as an optional diagnostic that may stay 0).
func (t *Tracker) TrackedBytes() uint32 {
	if t.tracked < 0 {
		return 0
	}
	return uint32(t.tracked)
}

// Pages returns the nominal WASM page count for the configured budget.
func (t *Tracker) Pages() uint32 {
	pages := t.budgetBytes / PageSize
	if t.budgetBytes%PageSize != 0 {
		pages++
	}
	return uint32(pages)
}
