package workerpool

import (
	"bytes"
	"context"
	"io"

	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/workerkey"
)

// StubWorker is an in-process poolapi.Worker backed by in-memory buffers,
// used for tests and for the cmd/workerspawn demo when no real
// persistent-worker process is plugged in.
type StubWorker struct {
	In  bytes.Buffer
	Out bytes.Buffer

	PrepareErr error
	FinishErr  error
	WriteErr   error

	LogPath string

	closed bool
}

var _ poolapi.Worker = (*StubWorker)(nil)

func (w *StubWorker) Streams() poolapi.Streams {
	return poolapi.Streams{Stdin: stubWriter{w}, Stdout: &w.Out}
}

func (w *StubWorker) LogFile() string { return w.LogPath }

func (w *StubWorker) PrepareExecution(ctx context.Context, key workerkey.Key) error {
	return w.PrepareErr
}

func (w *StubWorker) FinishExecution(ctx context.Context, key workerkey.Key) error {
	return w.FinishErr
}

func (w *StubWorker) Close() error {
	w.closed = true
	return nil
}

// Closed reports whether Close has been called (used by tests to assert
// invalidation happened).
func (w *StubWorker) Closed() bool { return w.closed }

// stubWriter forces a write error when configured, otherwise writes into
// the worker's In buffer (what a real worker would read as its stdin).
type stubWriter struct{ w *StubWorker }

func (s stubWriter) Write(p []byte) (int, error) {
	if s.w.WriteErr != nil {
		return 0, s.w.WriteErr
	}
	return s.w.In.Write(p)
}

// Flush is a no-op; bytes.Buffer has nothing to flush. Present so
// stubWriter satisfies the flusher interface wireproto.WriteDelimitedRequest
// looks for.
func (s stubWriter) Flush() error { return nil }

var _ io.Writer = stubWriter{}
