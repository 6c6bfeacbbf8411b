// Package resource implements the local resource accounting collaborator
// spec §9 recommends injecting rather than reaching for as a process-wide
// singleton: Acquire(ctx, owner, resources) -> Handle, released on every
// exec exit path (spec §3 ResourceHandle, §5 suspension points).
//
// The bookkeeping style mirrors the teacher's token-bucket rate limiter
// (internal/platform/web/ratelimit.go): mutex-guarded running totals. A
// single mutex guards both the CPU and the memory counters, so every
// Acquire and release contends on the same lock.
package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaybuild/workerspawn/internal/domain"
)

// Handle is a scoped reservation; Release must be called exactly once,
// normally via defer immediately after a successful Acquire.
type Handle struct {
	mgr    *Manager
	cpu    float64
	memMB  int64
	released bool
	mu     sync.Mutex
}

// Release returns the reservation to the pool. It is safe to call more
// than once; only the first call has effect.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.mgr.release(h.cpu, h.memMB)
}

// Manager gates concurrent local resource usage over a fixed CPU and
// memory budget. It is a plain collaborator value — no package-level
// singleton — so callers (and tests) can construct as many independent
// managers as they like.
type Manager struct {
	mu         sync.Mutex
	totalCPU   float64
	totalMemMB int64
	usedCPU    float64
	usedMemMB  int64
	waiters    []chan struct{}
}

// NewManager creates a Manager with the given total budget.
func NewManager(totalCPU float64, totalMemMB int64) *Manager {
	return &Manager{totalCPU: totalCPU, totalMemMB: totalMemMB}
}

// Acquire blocks until req fits within the remaining budget, or ctx is
// canceled first.
func (m *Manager) Acquire(ctx context.Context, owner string, req domain.ResourceSet) (*Handle, error) {
	for {
		m.mu.Lock()
		if m.usedCPU+req.CPU <= m.totalCPU && m.usedMemMB+req.MemMB <= m.totalMemMB {
			m.usedCPU += req.CPU
			m.usedMemMB += req.MemMB
			m.mu.Unlock()
			return &Handle{mgr: m, cpu: req.CPU, memMB: req.MemMB}, nil
		}
		wake := make(chan struct{})
		m.waiters = append(m.waiters, wake)
		m.mu.Unlock()

		select {
		case <-wake:
			// budget changed; loop and re-check
		case <-ctx.Done():
			return nil, fmt.Errorf("acquiring resources for %s: %w", owner, ctx.Err())
		}
	}
}

func (m *Manager) release(cpu float64, memMB int64) {
	m.mu.Lock()
	m.usedCPU -= cpu
	m.usedMemMB -= memMB
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}
