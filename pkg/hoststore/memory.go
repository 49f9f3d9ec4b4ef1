// Package hoststore provides a reference, in-memory implementation of the
// external table engine's Store interface, grounded on the pack's wazero
// Go integration example: the same map[uint32]map[string][]byte shape,
// translated from WASM-memory-slice host functions to plain Go
// []byte/string arguments since there is no linear memory to read out of
// on this side of the ABI.
package hoststore

import "sync"

// Memory is a goroutine-safe in-memory Store. It is the default backing
// store a host can use without standing up real persistence, and the one
// the guest package's examples and tests exercise.
type Memory struct {
	mu     sync.Mutex
	tables map[uint32]map[string][]byte
	order  map[uint32][]string
}

// New creates an empty Memory store.
func New() *Memory {
	return &Memory{
		tables: make(map[uint32]map[string][]byte),
		order:  make(map[uint32][]string),
	}
}

func (m *Memory) getOrCreate(id uint32) map[string][]byte {
	t, ok := m.tables[id]
	if !ok {
		t = make(map[string][]byte)
		m.tables[id] = t
	}
	return t
}

// Set stores an independent copy of value under key in table id, creating
// the table lazily on first reference.
func (m *Memory) Set(id uint32, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.getOrCreate(id)
	if _, exists := t[key]; !exists {
		m.order[id] = append(m.order[id], key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	t[key] = cp
	return nil
}

// Get returns the stored value for key in table id. A miss (unknown table
// or unknown key) is reported via ok=false, never an error.
func (m *Memory) Get(id uint32, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[id]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

// Delete removes key from table id. Deleting a missing key, or deleting
// from a table that was never created, is a no-op.
func (m *Memory) Delete(id uint32, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[id]
	if !ok {
		return nil
	}
	if _, exists := t[key]; !exists {
		return nil
	}
	delete(t, key)
	keys := m.order[id]
	for i, k := range keys {
		if k == key {
			m.order[id] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

// Size reports the entry count of table id, or 0 if it does not exist.
func (m *Memory) Size(id uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.tables[id]))
}

// Keys returns the keys of table id in insertion order.
func (m *Memory) Keys(id uint32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.order[id]
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

// TableCount reports how many distinct table ids have ever been
// referenced, a diagnostic the wazero example surfaces too.
func (m *Memory) TableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}
