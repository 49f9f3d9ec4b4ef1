// Package errbuf wraps the interpreter call site and classifies failures
// into the three kinds the execution cycle must report distinctly:
// compilation, runtime, and serialization errors.
package errbuf

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"luaguest/internal/codec"
)

// Kind classifies a captured error.
type Kind int

const (
	KindCompilation Kind = iota
	KindRuntime
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindCompilation:
		return "compilation error"
	case KindRuntime:
		return "runtime error"
	case KindSerialization:
		return "serialization error"
	default:
		return "error"
	}
}

// Buffer holds the classified message for the most recent failed call. It
// never grows past limit; overflow truncates with an ellipsis, and the
// classification still holds even when truncated.
type Buffer struct {
	limit     int
	kind      Kind
	message   string
	truncated bool
	hasError  bool
}

// New creates a Buffer capped at limit bytes. A limit of 0 means unbounded.
func New(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Reset clears the buffer between calls, guaranteeing a prior failure never
// contaminates a later one.
func (b *Buffer) Reset() {
	b.kind = 0
	b.message = ""
	b.truncated = false
	b.hasError = false
}

// Empty reports whether the last call left no error recorded.
func (b *Buffer) Empty() bool { return !b.hasError }

// Kind returns the classification of the captured error.
func (b *Buffer) Kind() Kind { return b.kind }

// Message returns the captured, possibly truncated, error text.
func (b *Buffer) Message() string { return b.message }

// SetFromCallError classifies and captures an error returned by the
// interpreter's compile-and-call path (DoString / PCall).
func (b *Buffer) SetFromCallError(err error) {
	var apiErr *lua.ApiError
	kind := KindRuntime
	msg := err.Error()

	if errors.As(err, &apiErr) {
		if apiErr.Type == lua.ApiErrorSyntax {
			kind = KindCompilation
		}
		if s, ok := apiErr.Object.(lua.LString); ok {
			msg = string(s)
		}
	}
	b.set(kind, msg)
}

// SetFromCodecError classifies a value-serialization failure as
// KindSerialization, with a message carrying the "serialization error"
// prefix.
func (b *Buffer) SetFromCodecError(err error) {
	prefix := "serialization error"
	if cerr, ok := err.(*codec.Error); ok {
		prefix = cerr.Error()
	} else {
		prefix = prefix + ": " + err.Error()
	}
	b.set(KindSerialization, prefix)
}

// SetFromPanic classifies a recovered Go-level panic as a runtime error.
// It exists so the execution cycle can translate any unexpected internal
// invariant violation into a reported error instead of letting it
// terminate the interpreter, per the "never panics" guarantee.
func (b *Buffer) SetFromPanic(r any) {
	b.set(KindRuntime, fmt.Sprintf("recovered panic: %v", r))
}

func (b *Buffer) set(kind Kind, msg string) {
	b.kind = kind
	b.hasError = true
	if b.limit > 0 && len(msg) > b.limit {
		const ellipsis = "..."
		cut := b.limit - len(ellipsis)
		if cut < 0 {
			cut = 0
		}
		msg = msg[:cut] + ellipsis
		b.truncated = true
	}
	b.message = msg
}
