package exttable

import "fmt"

// memStore is a minimal in-package Store fake used by this package's own
// tests, independent of the reference host store in pkg/hoststore.
type memStore struct {
	tables map[uint32]map[string][]byte
	order  map[uint32][]string
}

func newMemStore() *memStore {
	return &memStore{
		tables: make(map[uint32]map[string][]byte),
		order:  make(map[uint32][]string),
	}
}

func (m *memStore) table(id uint32) map[string][]byte {
	t, ok := m.tables[id]
	if !ok {
		t = make(map[string][]byte)
		m.tables[id] = t
	}
	return t
}

func (m *memStore) Set(id uint32, key string, value []byte) error {
	t := m.table(id)
	if _, exists := t[key]; !exists {
		m.order[id] = append(m.order[id], key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	t[key] = cp
	return nil
}

func (m *memStore) Get(id uint32, key string) ([]byte, bool) {
	t, ok := m.tables[id]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

func (m *memStore) Delete(id uint32, key string) error {
	t, ok := m.tables[id]
	if !ok {
		return nil
	}
	if _, exists := t[key]; exists {
		delete(t, key)
		keys := m.order[id]
		for i, k := range keys {
			if k == key {
				m.order[id] = append(keys[:i], keys[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *memStore) Size(id uint32) uint32 {
	return uint32(len(m.tables[id]))
}

func (m *memStore) Keys(id uint32) ([]string, error) {
	keys := m.order[id]
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

func (m *memStore) mustGetString(id uint32, key string) string {
	v, ok := m.Get(id, key)
	if !ok {
		panic(fmt.Sprintf("missing key %q in table %d", key, id))
	}
	return string(v)
}
