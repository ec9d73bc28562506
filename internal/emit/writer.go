// Package emit writes decoded records to the output descriptor. Records
// are buffered in user space; the event loop flushes before every blocking
// wait so the downstream consumer sees data with bounded latency.
package emit

import (
	"bufio"
	"fmt"
	"io"

	"github.com/jfoltran/pglogstream/internal/wire"
)

const bufSize = 32 * 1024

// Writer frames and buffers records for the downstream consumer.
type Writer struct {
	w           *bufio.Writer
	writeHeader bool
	writeNL     bool
}

// NewWriter wraps the output stream. When writeHeader is set each record
// is preceded by a `w <lsn> <length>` line; when writeNL is set each
// record is followed by a newline, which the header length includes.
func NewWriter(out io.Writer, writeHeader, writeNL bool) *Writer {
	return &Writer{
		w:           bufio.NewWriterSize(out, bufSize),
		writeHeader: writeHeader,
		writeNL:     writeNL,
	}
}

// Emit buffers one record. Any error is fatal to the session.
func (w *Writer) Emit(rec *wire.XLogData) error {
	if w.writeHeader {
		size := len(rec.Data)
		if w.writeNL {
			size++
		}
		if _, err := fmt.Fprintf(w.w, "w %s %d\n", rec.DataStart, size); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(rec.Data); err != nil {
		return err
	}
	if w.writeNL {
		if err := w.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the buffer to the output descriptor.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
