package framer

import (
	"testing"

	lua "github.com/yuin/gopher-lua"

	"luaguest/internal/codec"
)

// TestIntegerRoundTripScenario reproduces spec scenario 1: `return 42`.
func TestIntegerRoundTripScenario(t *testing.T) {
	c := codec.New()
	dst := make([]byte, 65536)

	n, err := WriteSuccess(c, dst, "", false, lua.LNumber(42))
	if err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	want := []byte{0, 0, 0, 0, 0x02, 0x2A, 0, 0, 0, 0, 0, 0, 0}
	if n != len(want) {
		t.Fatalf("got frame length %d, want %d", n, len(want))
	}
	for i, b := range want {
		if dst[i] != b {
			t.Errorf("byte %d: got 0x%02x, want 0x%02x", i, dst[i], b)
		}
	}
}

// TestPrintThenReturnStringScenario reproduces spec scenario 2:
// `print("hi"); return "ok"`.
func TestPrintThenReturnStringScenario(t *testing.T) {
	c := codec.New()
	dst := make([]byte, 65536)

	n, err := WriteSuccess(c, dst, "hi\n", false, lua.LString("ok"))
	if err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	want := []byte{3, 0, 0, 0, 'h', 'i', '\n', 0x04, 2, 0, 0, 0, 'o', 'k'}
	if n != len(want) {
		t.Fatalf("got frame length %d, want %d", n, len(want))
	}
	for i, b := range want {
		if dst[i] != b {
			t.Errorf("byte %d: got 0x%02x, want 0x%02x", i, dst[i], b)
		}
	}
}

func TestOverflowMarker(t *testing.T) {
	c := codec.New()
	dst := make([]byte, 65536)

	n, err := WriteSuccess(c, dst, "partial", true, lua.LNil)
	if err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	frame := dst[:n]
	markerStart := 4 + len("partial")
	if string(frame[markerStart:markerStart+3]) != "..." {
		t.Errorf("expected overflow marker at offset %d, got %q", markerStart, frame[markerStart:markerStart+3])
	}
}

func TestTableAndFunctionMarkers(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := codec.New()
	dst := make([]byte, 65536)

	n, err := WriteSuccess(c, dst, "", false, lua.NewTable())
	if err != nil {
		t.Fatalf("WriteSuccess(table): %v", err)
	}
	if string(dst[4:n]) != "table" {
		t.Errorf("got %q, want literal marker \"table\"", dst[4:n])
	}

	fn := L.NewFunction(func(L *lua.LState) int { return 0 })
	n, err = WriteSuccess(c, dst, "", false, fn)
	if err != nil {
		t.Fatalf("WriteSuccess(function): %v", err)
	}
	if string(dst[4:n]) != "function" {
		t.Errorf("got %q, want literal marker \"function\"", dst[4:n])
	}
}

type fakeResolver struct {
	tables map[uint32]*lua.LTable
}

func (f *fakeResolver) Resolve(id uint32) *lua.LTable {
	if t, ok := f.tables[id]; ok {
		return t
	}
	t := lua.NewTable()
	f.tables[id] = t
	return t
}

func (f *fakeResolver) IdentifyTable(t *lua.LTable) (uint32, bool) {
	for id, candidate := range f.tables {
		if candidate == t {
			return id, true
		}
	}
	return 0, false
}

// TestExternalTableTopOfStackStillUsesMarker confirms the framer's
// "table" marker path and the tagged external-table value encoding stay
// separate: even a proxy table at the top of stack gets the literal
// marker, per the source's explicit choice not to unify the two paths.
func TestExternalTableTopOfStackStillUsesMarker(t *testing.T) {
	c := codec.New()
	r := &fakeResolver{tables: make(map[uint32]*lua.LTable)}
	c.SetResolver(r)
	proxy := r.Resolve(9)

	dst := make([]byte, 65536)
	n, err := WriteSuccess(c, dst, "", false, proxy)
	if err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	if string(dst[4:n]) != "table" {
		t.Errorf("got %q, want literal marker \"table\"", dst[4:n])
	}
}

func TestWriteErrorReturnValueConvention(t *testing.T) {
	dst := make([]byte, 65536)
	n, err := WriteError(dst, "bad thing happened")
	if err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	wantLen := len("bad thing happened")
	if n != -(wantLen + 1) {
		t.Errorf("got return value %d, want %d", n, -(wantLen + 1))
	}
	if string(dst[:wantLen]) != "bad thing happened" {
		t.Errorf("got %q", dst[:wantLen])
	}
}
