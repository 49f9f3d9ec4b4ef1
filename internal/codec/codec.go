// Package codec implements the tagged binary value encoding used to
// exchange Lua values across the guest/host boundary and to store values
// inside external tables. It operates directly against gopher-lua values,
// since gopher-lua (the embedded interpreter collaborator) is itself the
// only "C API" layer beneath this boundary — there is no separate native
// Lua library to shield callers from here.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// Tag identifies the wire type of an encoded value.
type Tag byte

const (
	TagNil      Tag = 0x00
	TagBool     Tag = 0x01
	TagInt64    Tag = 0x02
	TagFloat64  Tag = 0x03
	TagString   Tag = 0x04
	TagFunction Tag = 0x05
	TagForeign  Tag = 0x06
	TagExtTable Tag = 0x07
)

// ExtTableIDKey is the private metatable field external table proxies use
// to carry their numeric id. It lives on the metatable, not the table
// itself, so ordinary field access and pairs() iteration never see it.
const ExtTableIDKey = "__luaguest_ext_table_id"

// Kind classifies an encode/decode failure the way the source's error
// handling design requires (serialization errors surface as runtime
// errors with this prefix).
type Kind int

const (
	KindTypeUnsupported Kind = iota
	KindBufferFull
	KindIntegerOutOfRange
	KindMalformed
	KindTrailingGarbage
)

// Error is a classified codec failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "serialization error: " + e.Msg }

func errf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// TableResolver bridges the codec to the external table engine without the
// two packages importing each other: the engine implements this interface
// structurally (see internal/exttable.Registry), and the codec is handed a
// resolver at construction time.
type TableResolver interface {
	// Resolve returns the live Lua proxy table for an external table id,
	// creating it on first reference.
	Resolve(id uint32) *lua.LTable
	// IdentifyTable reports the external table id carried by t's
	// metatable, if t is an external table proxy.
	IdentifyTable(t *lua.LTable) (id uint32, ok bool)
}

// Codec encodes and decodes Lua values per the tagged alphabet above. One
// Codec belongs to exactly one guest instance — the foreign-function
// registry it maintains is not meant to be shared across guests.
type Codec struct {
	resolver TableResolver

	foreignIDs  map[*lua.LFunction]uint32
	foreignFns  map[uint32]*lua.LFunction
	nextForeign uint32
}

// New creates a Codec. SetResolver must be called before any value
// containing external table references is encoded or decoded.
func New() *Codec {
	return &Codec{
		foreignIDs: make(map[*lua.LFunction]uint32),
		foreignFns: make(map[uint32]*lua.LFunction),
	}
}

// SetResolver wires the external-table resolver in after both the codec
// and the table registry have been constructed.
func (c *Codec) SetResolver(r TableResolver) { c.resolver = r }

// Encode writes v into dst per the tagged alphabet, returning the number of
// bytes written. dst's capacity is the destination's capacity; a value that
// does not fit returns a KindBufferFull error.
func (c *Codec) Encode(v lua.LValue, dst []byte) (int, error) {
	var buf bytes.Buffer

	switch val := v.(type) {
	case *lua.LNilType:
		buf.WriteByte(byte(TagNil))

	case lua.LBool:
		buf.WriteByte(byte(TagBool))
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case lua.LNumber:
		f := float64(val)
		if isExactInt64(f) {
			buf.WriteByte(byte(TagInt64))
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(int64(f)))
			buf.Write(b[:])
		} else {
			buf.WriteByte(byte(TagFloat64))
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
			buf.Write(b[:])
		}

	case lua.LString:
		buf.WriteByte(byte(TagString))
		s := string(val)
		if uint64(len(s)) > math.MaxUint32 {
			return 0, errf(KindIntegerOutOfRange, "string length %d exceeds u32", len(s))
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
		buf.Write(b[:])
		buf.WriteString(s)

	case *lua.LFunction:
		if val.IsG {
			id := c.registerForeign(val)
			buf.WriteByte(byte(TagForeign))
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], id)
			buf.Write(b[:])
		} else {
			blob, err := encodeProto(val.Proto)
			if err != nil {
				return 0, errf(KindTypeUnsupported, "function not encodable: %v", err)
			}
			buf.WriteByte(byte(TagFunction))
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(len(blob)))
			buf.Write(b[:])
			buf.Write(blob)
		}

	case *lua.LTable:
		if c.resolver == nil {
			return 0, errf(KindTypeUnsupported, "table value with no external-table resolver configured")
		}
		id, ok := c.resolver.IdentifyTable(val)
		if !ok {
			return 0, errf(KindTypeUnsupported, "plain Lua tables are not a storable value kind; wrap in ext.table() first")
		}
		buf.WriteByte(byte(TagExtTable))
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], id)
		buf.Write(b[:])

	default:
		return 0, errf(KindTypeUnsupported, "unsupported value type %s", v.Type().String())
	}

	if buf.Len() > len(dst) {
		return 0, errf(KindBufferFull, "encoded value (%d bytes) exceeds destination capacity (%d bytes)", buf.Len(), len(dst))
	}
	return copy(dst, buf.Bytes()), nil
}

// Decode consumes src in full and returns the corresponding Lua value. It
// fails with KindMalformed on truncated/invalid input and KindTrailingGarbage
// if bytes remain after a complete value has been parsed.
func (c *Codec) Decode(L *lua.LState, src []byte) (lua.LValue, error) {
	if len(src) == 0 {
		return nil, errf(KindMalformed, "empty input")
	}
	tag := Tag(src[0])
	rest := src[1:]

	switch tag {
	case TagNil:
		return c.finish(lua.LNil, rest, 0)

	case TagBool:
		if len(rest) < 1 {
			return nil, errf(KindMalformed, "truncated boolean")
		}
		return c.finish(lua.LBool(rest[0] != 0), rest, 1)

	case TagInt64:
		if len(rest) < 8 {
			return nil, errf(KindMalformed, "truncated int64")
		}
		n := int64(binary.LittleEndian.Uint64(rest[:8]))
		return c.finish(lua.LNumber(float64(n)), rest, 8)

	case TagFloat64:
		if len(rest) < 8 {
			return nil, errf(KindMalformed, "truncated float64")
		}
		bits := binary.LittleEndian.Uint64(rest[:8])
		return c.finish(lua.LNumber(math.Float64frombits(bits)), rest, 8)

	case TagString:
		if len(rest) < 4 {
			return nil, errf(KindMalformed, "truncated string length")
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		body := rest[4:]
		if uint64(len(body)) < uint64(n) {
			return nil, errf(KindMalformed, "truncated string body")
		}
		return c.finish(lua.LString(body[:n]), body, int(n))

	case TagFunction:
		if len(rest) < 4 {
			return nil, errf(KindMalformed, "truncated function length")
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		body := rest[4:]
		if uint64(len(body)) < uint64(n) {
			return nil, errf(KindMalformed, "truncated function body")
		}
		proto, err := decodeProto(body[:n])
		if err != nil {
			return nil, errf(KindMalformed, "malformed function bytecode: %v", err)
		}
		fn := L.NewFunctionFromProto(proto)
		return c.finish(fn, body, int(n))

	case TagForeign:
		if len(rest) < 4 {
			return nil, errf(KindMalformed, "truncated foreign reference")
		}
		id := binary.LittleEndian.Uint32(rest[:4])
		fn := L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("foreign function not rebindable")
			return 0
		})
		c.foreignFns[id] = fn
		return c.finish(fn, rest, 4)

	case TagExtTable:
		if len(rest) < 4 {
			return nil, errf(KindMalformed, "truncated external table reference")
		}
		if c.resolver == nil {
			return nil, errf(KindMalformed, "external table reference with no resolver configured")
		}
		id := binary.LittleEndian.Uint32(rest[:4])
		return c.finish(c.resolver.Resolve(id), rest, 4)

	default:
		return nil, errf(KindMalformed, "unknown type tag 0x%02x", byte(tag))
	}
}

// finish checks for trailing garbage after consuming n bytes from rest.
func (c *Codec) finish(v lua.LValue, rest []byte, n int) (lua.LValue, error) {
	if len(rest) != n {
		return nil, errf(KindTrailingGarbage, "%d trailing byte(s) after decoded value", len(rest)-n)
	}
	return v, nil
}

func (c *Codec) registerForeign(fn *lua.LFunction) uint32 {
	if id, ok := c.foreignIDs[fn]; ok {
		return id
	}
	c.nextForeign++
	id := c.nextForeign
	c.foreignIDs[fn] = id
	c.foreignFns[id] = fn
	return id
}

// isExactInt64 reports whether f is a whole number representable without
// loss as an int64 — the heuristic this codec uses to prefer TagInt64,
// since gopher-lua (Lua 5.1 semantics) has no distinct integer subtype:
// every Lua number is an LNumber/float64 at the stack slot.
func isExactInt64(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if f != math.Trunc(f) {
		return false
	}
	return f >= -9.223372036854776e18 && f < 9.223372036854776e18
}

// protoWire is the gob-friendly subset of *lua.FunctionProto this codec
// round-trips. gopher-lua's FunctionProto carries debug info (source
// positions, local variable names) that is not needed to reconstruct a
// callable function and is dropped.
type protoWire struct {
	Code               []uint32
	Constants          []protoConstant
	NumUpvalues        uint8
	NumParameters      uint8
	IsVarArg           uint8
	NumUsedRegisters   uint8
	FunctionPrototypes []protoWire
	SourceName         string
	LineDefined        int
	LastLineDefined    int
}

// protoConstant mirrors the subset of lua.LValue kinds that can appear in
// a FunctionProto's constant pool: nil, bool, number, string.
type protoConstant struct {
	Tag Tag
	B   bool
	N   float64
	S   string
}

func toProtoConstant(v lua.LValue) (protoConstant, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return protoConstant{Tag: TagNil}, nil
	case lua.LBool:
		return protoConstant{Tag: TagBool, B: bool(val)}, nil
	case lua.LNumber:
		return protoConstant{Tag: TagFloat64, N: float64(val)}, nil
	case lua.LString:
		return protoConstant{Tag: TagString, S: string(val)}, nil
	default:
		return protoConstant{}, fmt.Errorf("unsupported constant kind %s", v.Type().String())
	}
}

func (p protoConstant) toLValue() lua.LValue {
	switch p.Tag {
	case TagBool:
		return lua.LBool(p.B)
	case TagFloat64:
		return lua.LNumber(p.N)
	case TagString:
		return lua.LString(p.S)
	default:
		return lua.LNil
	}
}

func toProtoWire(p *lua.FunctionProto) (protoWire, error) {
	w := protoWire{
		Code:             p.Code,
		NumUpvalues:      p.NumUpvalues,
		NumParameters:    p.NumParameters,
		IsVarArg:         p.IsVarArg,
		NumUsedRegisters: p.NumUsedRegisters,
		SourceName:       p.SourceName,
		LineDefined:      p.LineDefined,
		LastLineDefined:  p.LastLineDefined,
	}
	for _, k := range p.Constants {
		pc, err := toProtoConstant(k)
		if err != nil {
			return protoWire{}, err
		}
		w.Constants = append(w.Constants, pc)
	}
	for _, fp := range p.FunctionPrototypes {
		child, err := toProtoWire(fp)
		if err != nil {
			return protoWire{}, err
		}
		w.FunctionPrototypes = append(w.FunctionPrototypes, child)
	}
	return w, nil
}

func fromProtoWire(w protoWire) *lua.FunctionProto {
	p := &lua.FunctionProto{
		Code:             w.Code,
		NumUpvalues:      w.NumUpvalues,
		NumParameters:    w.NumParameters,
		IsVarArg:         w.IsVarArg,
		NumUsedRegisters: w.NumUsedRegisters,
		SourceName:       w.SourceName,
		LineDefined:      w.LineDefined,
		LastLineDefined:  w.LastLineDefined,
	}
	for _, k := range w.Constants {
		p.Constants = append(p.Constants, k.toLValue())
	}
	for _, child := range w.FunctionPrototypes {
		p.FunctionPrototypes = append(p.FunctionPrototypes, fromProtoWire(child))
	}
	return p
}

// encodeProto gob-encodes a FunctionProto's callable subset. Upvalues bound
// at closure-creation time are not captured: a round-tripped function
// behaves like a fresh top-level closure, per the source's acknowledgment
// that live interpreter constructs are not fully serializable.
func encodeProto(p *lua.FunctionProto) ([]byte, error) {
	w, err := toProtoWire(p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProto(blob []byte) (*lua.FunctionProto, error) {
	var w protoWire
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&w); err != nil {
		return nil, err
	}
	return fromProtoWire(w), nil
}
