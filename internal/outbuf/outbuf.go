// Package outbuf captures the guest's textual output stream: the
// replacement `print` builtin writes here instead of to any real stdout,
// and the execution cycle reads it back out to assemble a result frame.
package outbuf

import "strings"

// Buffer accumulates printed output for a single compute call. It is reset
// at the start of every call so one script's output never leaks into the
// next.
type Buffer struct {
	b         strings.Builder
	truncated bool
	limit     int
}

// New creates a Buffer capped at limit bytes. A limit of 0 means unbounded.
func New(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Reset clears accumulated output and the truncation flag, ready for the
// next compute call.
func (b *Buffer) Reset() {
	b.b.Reset()
	b.truncated = false
}

// Print appends the tab-separated, newline-terminated rendering of args,
// matching Lua's builtin print semantics.
func (b *Buffer) Print(args ...string) {
	line := strings.Join(args, "\t") + "\n"
	b.append(line)
}

// Write appends raw text without reformatting, for callers that already
// have a fully-formed line (e.g. io.write-style builtins, if wired).
func (b *Buffer) Write(s string) {
	b.append(s)
}

func (b *Buffer) append(s string) {
	if b.truncated {
		return
	}
	if b.limit > 0 && b.b.Len()+len(s) > b.limit {
		room := b.limit - b.b.Len()
		if room > 0 {
			b.b.WriteString(s[:room])
		}
		b.truncated = true
		return
	}
	b.b.WriteString(s)
}

// String returns the accumulated output so far.
func (b *Buffer) String() string { return b.b.String() }

// Len returns the number of bytes accumulated so far.
func (b *Buffer) Len() int { return b.b.Len() }

// Truncated reports whether output was dropped because it exceeded the
// configured limit.
func (b *Buffer) Truncated() bool { return b.truncated }
