package hoststore

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	m := New()
	if err := m.Set(1, "a", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := m.Get(1, "a")
	if !ok || string(got) != "hello" {
		t.Errorf("got %q, %v; want %q, true", got, ok, "hello")
	}
}

func TestGetMissIsNotError(t *testing.T) {
	m := New()
	_, ok := m.Get(42, "missing")
	if ok {
		t.Errorf("expected a miss on an unknown table")
	}
}

func TestSetCopiesValueBytes(t *testing.T) {
	m := New()
	value := []byte("original")
	if err := m.Set(1, "k", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'X'
	got, _ := m.Get(1, "k")
	if string(got) != "original" {
		t.Errorf("Set must take an independent copy; stored value mutated to %q", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := New()
	_ = m.Set(1, "k", []byte("v"))
	if err := m.Delete(1, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(1, "k"); err != nil {
		t.Fatalf("repeat Delete should be a no-op, got error: %v", err)
	}
	if _, ok := m.Get(1, "k"); ok {
		t.Errorf("key should be gone after delete")
	}
}

func TestSizeReportsZeroForUnknownTable(t *testing.T) {
	m := New()
	if got := m.Size(7); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestKeysInsertionOrder(t *testing.T) {
	m := New()
	_ = m.Set(1, "a", []byte("1"))
	_ = m.Set(1, "b", []byte("2"))
	_ = m.Set(1, "c", []byte("3"))
	keys, err := m.Keys(1)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestKeysEmptyTable(t *testing.T) {
	m := New()
	keys, err := m.Keys(99)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("got %v, want empty", keys)
	}
}
