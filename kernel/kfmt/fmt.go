// Package kfmt provides the logging primitives used by the memory subsystem.
// Output is sent to a pluggable io.Writer sink; anything logged before a sink
// is installed is captured by a ring buffer and replayed into the sink once
// it becomes available.
package kfmt

import (
	"fmt"
	"io"

	"soliloquy/kernel/sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// an output sink is installed.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// sinkLock serializes calls to Printf and sink updates.
	sinkLock sync.Spinlock
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkLock.Acquire()
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
	sinkLock.Release()
}

// Printf formats according to a format specifier (see the fmt package) and
// writes the result to the active output sink. If no sink is installed the
// output is buffered into a ring-buffer and flushed by the next call to
// SetOutputSink.
func Printf(format string, args ...interface{}) {
	sinkLock.Acquire()
	Fprintf(outputSink, format, args...)
	sinkLock.Release()
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. A nil writer selects the early print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyPrintBuffer
	}

	_, _ = fmt.Fprintf(w, format, args...)
}
