package logger

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MaxLineBytes caps a buffered partial line. Output that runs past it
// without a newline is emitted in pieces of this size.
const MaxLineBytes = 64 * 1024

// LineWriter splits a byte stream into lines and writes each complete line
// to dst as "<RFC3339Nano timestamp> <prefix()><line>\n".
// prefix is evaluated when the line is emitted, not when the writer is built.
type LineWriter struct {
	mu     sync.Mutex
	dst    io.Writer
	prefix func() string
	now    func() time.Time
	buf    bytes.Buffer
	max    int
}

func NewLineWriter(dst io.Writer, prefix func() string) *LineWriter {
	return &LineWriter{dst: dst, prefix: prefix, now: time.Now, max: MaxLineBytes}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		b := w.buf.Bytes()
		var line string
		switch i := bytes.IndexByte(b, '\n'); {
		case i >= 0 && i <= w.max:
			line = string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		case len(b) >= w.max:
			line = string(w.buf.Next(w.max))
		default:
			return len(p), nil
		}
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}
}

// Flush writes any trailing partial line.
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.String()
	w.buf.Reset()
	return w.emit(line)
}

func (w *LineWriter) emit(line string) error {
	var pre string
	if w.prefix != nil {
		pre = w.prefix()
	}
	_, err := io.WriteString(w.dst, w.now().UTC().Format(time.RFC3339Nano)+" "+pre+line+"\n")
	return err
}
