package wireproto

import "io"

// RecordingReader wraps a worker's stdout so that, on a parse failure, the
// driver can recover whatever bytes the worker actually wrote (spec
// §4.5/§7: "drain the recording and include it in the error message").
// It buffers up to a fixed window of bytes since the last StartRecording
// call; older bytes are dropped rather than growing unbounded.
type RecordingReader struct {
	r      io.Reader
	window int
	buf    []byte
}

// NewRecordingReader wraps r. Recording is off until StartRecording is
// called.
func NewRecordingReader(r io.Reader) *RecordingReader {
	return &RecordingReader{r: r}
}

// StartRecording (re)starts capture with a window of at most maxBytes.
func (rr *RecordingReader) StartRecording(maxBytes int) {
	rr.window = maxBytes
	rr.buf = rr.buf[:0]
}

func (rr *RecordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 && rr.window > 0 {
		rr.append(p[:n])
	}
	return n, err
}

func (rr *RecordingReader) append(p []byte) {
	rr.buf = append(rr.buf, p...)
	if over := len(rr.buf) - rr.window; over > 0 {
		rr.buf = rr.buf[over:]
	}
}

// ReadRemaining drains r until EOF or error, capturing into the window.
// Errors from the underlying reader are swallowed: this is a best-effort
// diagnostic drain, not a correctness-critical read.
func (rr *RecordingReader) ReadRemaining() {
	buf := make([]byte, 4096)
	for {
		n, err := rr.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// RecordedDataAsString returns the captured window as text.
func (rr *RecordingReader) RecordedDataAsString() string {
	return string(rr.buf)
}
