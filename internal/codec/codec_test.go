package codec

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func roundTrip(t *testing.T, L *lua.LState, c *Codec, v lua.LValue) lua.LValue {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := c.Encode(v, buf)
	if err != nil {
		t.Fatalf("Encode(%v) error: %v", v, err)
	}
	got, err := c.Decode(L, buf[:n])
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	cases := []lua.LValue{
		lua.LNil,
		lua.LBool(true),
		lua.LBool(false),
		lua.LNumber(42),
		lua.LNumber(-7),
		lua.LNumber(0),
		lua.LNumber(3.5),
		lua.LNumber(-0.125),
		lua.LString(""),
		lua.LString("hello world"),
	}

	for _, want := range cases {
		got := roundTrip(t, L, c, want)
		if got.String() != want.String() || got.Type() != want.Type() {
			t.Errorf("round trip mismatch: want %v (%s), got %v (%s)", want, want.Type(), got, got.Type())
		}
	}
}

func TestIntFloatDisambiguation(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	buf := make([]byte, 16)

	n, err := c.Encode(lua.LNumber(7), buf)
	if err != nil {
		t.Fatal(err)
	}
	if Tag(buf[0]) != TagInt64 {
		t.Errorf("whole number encoded with tag 0x%02x, want TagInt64", buf[0])
	}
	if _, err := c.Decode(L, buf[:n]); err != nil {
		t.Fatal(err)
	}

	n, err = c.Encode(lua.LNumber(7.25), buf)
	if err != nil {
		t.Fatal(err)
	}
	if Tag(buf[0]) != TagFloat64 {
		t.Errorf("fractional number encoded with tag 0x%02x, want TagFloat64", buf[0])
	}
	if _, err := c.Decode(L, buf[:n]); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeBufferFull(t *testing.T) {
	c := New()
	_, err := c.Encode(lua.LString("this string is too long"), make([]byte, 2))
	if err == nil {
		t.Fatal("expected buffer-full error")
	}
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindBufferFull {
		t.Errorf("got %v, want KindBufferFull", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	_, err := c.Decode(L, []byte{0xFF})
	if err == nil {
		t.Fatal("expected malformed error for unknown tag")
	}
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindMalformed {
		t.Errorf("got %v, want KindMalformed", err)
	}

	_, err = c.Decode(L, []byte{byte(TagBool)})
	if err == nil {
		t.Fatal("expected malformed error for truncated bool")
	}
}

func TestDecodeTrailingGarbage(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	buf := []byte{byte(TagNil), 0x01, 0x02}
	_, err := c.Decode(L, buf)
	if err == nil {
		t.Fatal("expected trailing garbage error")
	}
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindTrailingGarbage {
		t.Errorf("got %v, want KindTrailingGarbage", err)
	}
}

// fakeResolver is a minimal TableResolver for testing the external-table
// reference path without depending on the exttable package.
type fakeResolver struct {
	tables map[uint32]*lua.LTable
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{tables: make(map[uint32]*lua.LTable)}
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

func TestRoundTripExternalTableReference(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()
	r := newFakeResolver()
	c.SetResolver(r)

	proxy := r.Resolve(5)

	buf := make([]byte, 16)
	n, err := c.Encode(proxy, buf)
	if err != nil {
		t.Fatalf("Encode external table ref: %v", err)
	}
	if Tag(buf[0]) != TagExtTable {
		t.Fatalf("got tag 0x%02x, want TagExtTable", buf[0])
	}

	got, err := c.Decode(L, buf[:n])
	if err != nil {
		t.Fatalf("Decode external table ref: %v", err)
	}
	gotTable, ok := got.(*lua.LTable)
	if !ok || gotTable != proxy {
		t.Errorf("decoded table does not match original proxy by identity")
	}
}

func TestEncodePlainTableUnsupported(t *testing.T) {
	c := New()
	c.SetResolver(newFakeResolver())
	_, err := c.Encode(lua.NewTable(), make([]byte, 64))
	if err == nil {
		t.Fatal("expected error encoding a plain (non-external) table")
	}
}

func TestForeignFunctionRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	gf := L.NewFunction(func(L *lua.LState) int { return 0 })

	buf := make([]byte, 16)
	n, err := c.Encode(gf, buf)
	if err != nil {
		t.Fatalf("Encode foreign function: %v", err)
	}
	if Tag(buf[0]) != TagForeign {
		t.Fatalf("got tag 0x%02x, want TagForeign", buf[0])
	}

	got, err := c.Decode(L, buf[:n])
	if err != nil {
		t.Fatalf("Decode foreign function: %v", err)
	}
	fn, ok := got.(*lua.LFunction)
	if !ok {
		t.Fatalf("decoded value is not a function: %T", got)
	}
	if !fn.IsG {
		t.Errorf("decoded foreign placeholder should be a Go function")
	}
}

func TestLuaFunctionRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	c := New()

	fn, err := L.LoadString("local x = 1 return x + 2")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	buf := make([]byte, 8192)
	n, err := c.Encode(fn, buf)
	if err != nil {
		t.Fatalf("Encode Lua function: %v", err)
	}
	if Tag(buf[0]) != TagFunction {
		t.Fatalf("got tag 0x%02x, want TagFunction", buf[0])
	}

	got, err := c.Decode(L, buf[:n])
	if err != nil {
		t.Fatalf("Decode Lua function: %v", err)
	}
	decoded, ok := got.(*lua.LFunction)
	if !ok || decoded.IsG {
		t.Fatalf("decoded value is not a Lua closure: %T", got)
	}

	if err := L.CallByParam(lua.P{Fn: decoded, NRet: 1, Protect: true}); err != nil {
		t.Fatalf("calling decoded function: %v", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	if n, ok := ret.(lua.LNumber); !ok || n != 3 {
		t.Errorf("decoded function returned %v, want 3", ret)
	}
}
