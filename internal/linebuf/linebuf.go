// Package linebuf accumulates a byte stream into complete lines, holding
// back a trailing partial line until it is terminated. The Pattern Scanner
// (internal/scanner) evaluates rules against complete lines; this package
// is what turns an Executor's chunked ByteChunk stream into that input.
package linebuf

import "bytes"

// Buffer accumulates bytes and yields completed lines on Feed.
type Buffer struct {
	partial []byte
	// AbsOffset is the absolute byte offset, within the execution's whole
	// stream, of the start of partial. Lines returned by Feed report their
	// absolute start via Line.Start.
	AbsOffset int64
}

// Line is one newline-terminated line (newline stripped) plus its absolute
// byte offset within the execution stream.
type Line struct {
	Start int64
	Text  []byte
}

// Feed extends the buffer with b and returns zero or more completed lines.
// Any trailing partial line is retained for the next call.
func (buf *Buffer) Feed(b []byte) []Line {
	buf.partial = append(buf.partial, b...)

	var lines []Line
	for {
		idx := bytes.IndexByte(buf.partial, '\n')
		if idx < 0 {
			break
		}
		line := buf.partial[:idx]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, Line{Start: buf.AbsOffset, Text: line})
		buf.AbsOffset += int64(idx) + 1
		buf.partial = buf.partial[idx+1:]
	}
	return lines
}

// Pending returns the current unterminated partial line, without consuming
// it.
func (buf *Buffer) Pending() []byte {
	return buf.partial
}

// Flush forces the current partial line out as a final Line, for use when
// the stream ends without a trailing newline.
func (buf *Buffer) Flush() (Line, bool) {
	if len(buf.partial) == 0 {
		return Line{}, false
	}
	line := Line{Start: buf.AbsOffset, Text: buf.partial}
	buf.AbsOffset += int64(len(buf.partial))
	buf.partial = nil
	return line, true
}
