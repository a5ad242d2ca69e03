package runtime

import (
	"fmt"
	"io"
)

// WriterSink adapts an io.Writer (stdout, a file, a pcap writer, ...) into
// a Sink.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink wraps w as a Sink.
func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Printf(format string, args ...any) {
	fmt.Fprintf(s.w, format, args...)
}

func (s *WriterSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}
