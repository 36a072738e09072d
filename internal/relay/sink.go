package relay

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives relayed lines, without their line terminator.
type Sink interface {
	WriteLine(id, line string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(id, line string) error

// WriteLine calls f(id, line).
func (f SinkFunc) WriteLine(id, line string) error { return f(id, line) }

// WriterSink writes each line to an io.Writer, optionally prefixed with the
// terminal ID. Lines from concurrent terminals never interleave.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	prefix bool
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer, prefixID bool) *WriterSink {
	return &WriterSink{w: w, prefix: prefixID}
}

// WriteLine writes line followed by a newline.
func (s *WriterSink) WriteLine(id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.prefix {
		_, err = fmt.Fprintf(s.w, "%s: %s\n", id, line)
	} else {
		_, err = fmt.Fprintln(s.w, line)
	}
	return err
}
