// Package framing turns worker output into discrete lines.
//
// A worker writes newline-delimited records to stdout. Each record is either a
// self-contained JSON object (a structured record) or an arbitrary log line.
// The Framer reassembles lines across arbitrary read boundaries and tags each
// line with its Kind so callers branch on the tag instead of on decode errors:
//
//	f := framing.New()
//	for _, line := range f.Feed(chunk) {
//	    switch line.Kind {
//	    case framing.KindRecord:
//	        var ev events.Analysis
//	        _ = line.Decode(&ev)
//	    case framing.KindText:
//	        // plain log line
//	    }
//	}
//	if last, ok := f.Flush(); ok {
//	    // unterminated trailing line
//	}
package framing

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// readChunkSize is the read size used by Scan.
const readChunkSize = 32 * 1024

// Kind tags a framed line.
type Kind int

// Line kinds.
const (
	KindText   Kind = iota // plain text log line
	KindRecord             // self-contained JSON object
)

func (k Kind) String() string {
	if k == KindRecord {
		return "record"
	}
	return "text"
}

// Line is one logical line of worker output.
type Line struct {
	// Text is the line content without its terminating newline.
	Text string
	// Terminated is false only for residue flushed at end of stream.
	Terminated bool
	Kind       Kind
}

// Decode parses a structured line into v.
// Calling Decode on a text line returns ErrNotRecord.
func (l Line) Decode(v any) error {
	if l.Kind != KindRecord {
		return ErrNotRecord
	}
	return sonic.ConfigStd.UnmarshalFromString(strings.TrimSpace(l.Text), v)
}

// ErrNotRecord is returned when decoding a plain text line.
var ErrNotRecord = errors.New("line is not a structured record")

// Framer splits a byte stream into lines. It is not safe for concurrent use;
// each output stream owns its own Framer.
type Framer struct {
	pending []byte
}

// New creates an empty Framer.
func New() *Framer {
	return &Framer{}
}

// Feed appends a chunk and returns every line completed by it, in order.
// Bytes after the last newline are retained until the next Feed or Flush.
func (f *Framer) Feed(chunk []byte) []Line {
	var lines []Line
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.pending = append(f.pending, chunk...)
			break
		}
		var text string
		if len(f.pending) > 0 {
			f.pending = append(f.pending, chunk[:i]...)
			text = string(f.pending)
			f.pending = f.pending[:0]
		} else {
			text = string(chunk[:i])
		}
		lines = append(lines, Line{Text: text, Terminated: true, Kind: Classify(text)})
		chunk = chunk[i+1:]
	}
	return lines
}

// Flush returns the retained partial line, if any, and resets the Framer.
func (f *Framer) Flush() (Line, bool) {
	if len(f.pending) == 0 {
		return Line{}, false
	}
	text := string(f.pending)
	f.pending = nil
	return Line{Text: text, Kind: Classify(text)}, true
}

// Pending reports how many bytes are waiting for a newline.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Scan reads r until EOF and calls fn for every line, including the flushed
// residue. It stops early if fn returns an error.
func Scan(r io.Reader, fn func(Line) error) error {
	f := New()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range f.Feed(buf[:n]) {
				if fnErr := fn(line); fnErr != nil {
					return fnErr
				}
			}
		}
		if err != nil {
			if last, ok := f.Flush(); ok {
				if fnErr := fn(last); fnErr != nil {
					return fnErr
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Classify reports whether text is a complete JSON object.
// Anything that merely starts with '{' but does not validate is plain text.
func Classify(text string) Kind {
	t := strings.TrimSpace(text)
	if len(t) < 2 || t[0] != '{' || t[len(t)-1] != '}' {
		return KindText
	}
	if !sonic.ConfigStd.Valid([]byte(t)) {
		return KindText
	}
	return KindRecord
}
