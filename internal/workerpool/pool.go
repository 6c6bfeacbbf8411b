// Package workerpool provides a concrete, minimal implementation of the
// poolapi.Pool contract: a keyed pool of idle persistent-worker handles.
//
// It generalizes the teacher's fixed-size goroutine pool (N goroutines
// draining one buffered job channel, a sync.WaitGroup tracking drain on
// Stop) from "N interchangeable workers consuming one job stream" to "up
// to N live workers per distinct key, borrowed and returned individually."
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/workerkey"
)

// Spawner creates a new Worker for a key when the pool has no idle worker
// to hand out and is still under MaxPerKey. This is the seam where a real
// process-spawning implementation (e.g. internal/dockerworker) plugs in.
type Spawner func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error)

// Pool is a keyed idle-worker pool. Each key gets its own bounded shard:
// a slice of idle workers plus a counting semaphore admitting at most
// maxPerKey concurrently borrowed workers for that key. A fresh worker is
// spawned only when no idle one is left, so at most maxPerKey workers per
// key are live (borrowed or idle) at once.
type Pool struct {
	spawn      Spawner
	maxPerKey  int
	mu         sync.Mutex
	shards     map[string]*shard
}

type shard struct {
	idle  []poolapi.Worker
	sema  chan struct{} // one token per borrowed worker for this key
}

// New creates a Pool that spawns new workers via spawn, admitting at most
// maxPerKey concurrently live (borrowed + idle) workers per key.
func New(spawn Spawner, maxPerKey int) *Pool {
	if maxPerKey <= 0 {
		maxPerKey = 1
	}
	return &Pool{
		spawn:     spawn,
		maxPerKey: maxPerKey,
		shards:    make(map[string]*shard),
	}
}

func (p *Pool) shardFor(key workerkey.Key) *shard {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := key.Hash()
	s, ok := p.shards[h]
	if !ok {
		s = &shard{sema: make(chan struct{}, p.maxPerKey)}
		p.shards[h] = s
	}
	return s
}

// Borrow blocks until a slot is admitted for key, then returns an idle
// worker if one is available or spawns a fresh one.
func (p *Pool) Borrow(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
	s := p.shardFor(key)

	select {
	case s.sema <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	var w poolapi.Worker
	if n := len(s.idle); n > 0 {
		w = s.idle[n-1]
		s.idle = s.idle[:n-1]
	}
	p.mu.Unlock()

	if w != nil {
		return w, nil
	}

	w, err := p.spawn(ctx, key)
	if err != nil {
		<-s.sema // release the slot we reserved; borrow failed
		return nil, fmt.Errorf("spawning worker for %s: %w", key, err)
	}
	return w, nil
}

// Return returns a healthy worker to its key's idle list for reuse and
// releases the admission slot its borrow took.
func (p *Pool) Return(key workerkey.Key, w poolapi.Worker) {
	s := p.shardFor(key)
	p.mu.Lock()
	s.idle = append(s.idle, w)
	p.mu.Unlock()
	select {
	case <-s.sema:
	default:
	}
}

// Invalidate discards w and releases its key's admission slot. Discarding
// a worker must never panic the caller; any teardown error is logged and
// swallowed.
func (p *Pool) Invalidate(key workerkey.Key, w poolapi.Worker) {
	s := p.shardFor(key)
	if err := terminate(w); err != nil {
		slog.Warn("worker teardown failed", "worker_key", key.String(), "error", err)
	}
	select {
	case <-s.sema:
	default:
	}
}

func terminate(w poolapi.Worker) error {
	type closer interface{ Close() error }
	if c, ok := w.(closer); ok {
		return c.Close()
	}
	return nil
}
