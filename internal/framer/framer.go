// Package framer assembles the composite result frame written to the I/O
// buffer at the end of a successful compute call, and the raw error
// message written on a failed one.
package framer

import (
	"encoding/binary"

	lua "github.com/yuin/gopher-lua"

	"luaguest/internal/codec"
)

const overflowMarker = "..."

// Encoder is the subset of codec.Codec the framer needs to serialize a
// scalar return value. Framing and value encoding are kept as separate
// concerns on purpose: the marker-string path below for tables/functions
// has nothing to do with the tagged value alphabet tables and functions
// otherwise use when stored through external tables.
type Encoder interface {
	Encode(v lua.LValue, dst []byte) (int, error)
}

// WriteSuccess writes the composite success frame into dst and returns the
// total number of bytes written. output is the captured print output for
// this call; overflowed indicates the output buffer overran its limit and
// the "..." marker must be appended. top is the value at the top of the
// interpreter stack after execution (lua.LNil if the stack was empty).
func WriteSuccess(enc Encoder, dst []byte, output string, overflowed bool, top lua.LValue) (int, error) {
	if len(dst) < 4 {
		return 0, &codec.Error{Kind: codec.KindBufferFull, Msg: "destination too small for output length prefix"}
	}

	binary.LittleEndian.PutUint32(dst, uint32(len(output)))
	pos := 4

	if pos+len(output) > len(dst) {
		return 0, &codec.Error{Kind: codec.KindBufferFull, Msg: "destination too small for captured output"}
	}
	pos += copy(dst[pos:], output)

	if overflowed {
		if pos+len(overflowMarker) > len(dst) {
			return 0, &codec.Error{Kind: codec.KindBufferFull, Msg: "destination too small for overflow marker"}
		}
		pos += copy(dst[pos:], overflowMarker)
	}

	// Tables and functions at the top of stack always get the literal
	// marker strings, even when the table happens to be an external table
	// proxy: this path and the tagged external-table encoding path (used
	// only when a value is stored *through* an external table) are kept
	// deliberately separate and never unified. Structured results travel
	// through external tables, notably _io.output, not through this frame.
	switch top.(type) {
	case *lua.LTable:
		n := copy(dst[pos:], "table")
		return pos + n, nil
	case *lua.LFunction:
		n := copy(dst[pos:], "function")
		return pos + n, nil
	default:
		n, err := enc.Encode(top, dst[pos:])
		if err != nil {
			return 0, err
		}
		return pos + n, nil
	}
}

// WriteError writes the raw UTF-8 error message into dst and returns the
// compute return value per the -(len+1) convention.
func WriteError(dst []byte, message string) (int, error) {
	if len(message) > len(dst) {
		message = message[:len(dst)]
	}
	n := copy(dst, message)
	return -(n + 1), nil
}
