// Package poolapi defines the contract between the runner orchestrator and
// a worker pool (spec §4.4): borrowing, returning, and invalidating
// pooled Worker processes. Implementing the pool and the worker's own
// process lifecycle is explicitly out of this module's scope (spec §1);
// this package names only the seam.
package poolapi

import (
	"context"
	"io"

	"github.com/relaybuild/workerspawn/internal/workerkey"
)

// Streams exposes a borrowed worker's stdio, without committing to how
// the worker process itself was spawned.
type Streams struct {
	Stdin  io.Writer
	Stdout io.Reader
}

// Worker is a long-lived child process obtained from a Pool. The
// orchestrator holds it transiently for exactly one request/response
// exchange.
type Worker interface {
	Streams() Streams
	LogFile() string

	// PrepareExecution and FinishExecution bracket one exchange; both
	// may fail, at which point the caller must invalidate the worker
	// rather than return it (spec §4.6 invariant).
	PrepareExecution(ctx context.Context, key workerkey.Key) error
	FinishExecution(ctx context.Context, key workerkey.Key) error
}

// Pool is the contract spec §4.4 requires of a worker pool.
type Pool interface {
	// Borrow may block waiting for capacity or an idle worker; it may
	// fail with an I/O error. The returned worker is exclusively owned
	// by the caller until Return or Invalidate.
	Borrow(ctx context.Context, key workerkey.Key) (Worker, error)

	// Return returns a healthy worker for reuse.
	Return(key workerkey.Key, w Worker)

	// Invalidate terminates and discards a worker. It must not fail
	// fatally; implementations should log-and-swallow internally.
	Invalidate(key workerkey.Key, w Worker)
}
