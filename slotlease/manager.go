// Package slotlease implements bounded-parallelism issuance of slot
// indices for concurrent buy-attempt transaction building.
//
// A counting semaphore bounds how many leases can be outstanding at
// once, and a separate allocated-set tracks which specific indices are
// checked out so Release can validate its caller instead of trusting
// it, making double-release a safe no-op rather than a bookkeeping bug.
package slotlease

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"
)

// Lease is a held slot index. Callers MUST call Release exactly once,
// typically via defer immediately after a successful Acquire.
type Lease struct {
	Index   int
	manager *Manager
	mu      sync.Once
}

// Release returns the lease's index to the manager. Safe to call more
// than once; only the first call has effect.
func (l *Lease) Release() {
	l.mu.Do(func() {
		l.manager.release(l.Index)
	})
}

// Manager issues up to `capacity` concurrently outstanding slot indices
// drawn from [0, capacity).
type Manager struct {
	sem       *semaphore.Weighted
	capacity  int
	mu        sync.Mutex
	free      []int
	allocated map[int]bool
}

// New creates a manager that will hand out at most capacity concurrent
// leases, indexed [0, capacity). A zero capacity is accepted: every
// Acquire call then blocks forever, so callers wrap it in a context
// with a deadline or cancellation if that's not the desired behavior.
func New(capacity int) *Manager {
	if capacity < 0 {
		panic("slotlease: capacity must not be negative")
	}
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i // pop from the tail; order doesn't matter, indices are interchangeable
	}
	return &Manager{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  capacity,
		free:      free,
		allocated: make(map[int]bool, capacity),
	}
}

// Acquire blocks until a slot index is available or ctx is done. On
// success the returned lease's index is a member of the allocated set
// until Release is called.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("slotlease: acquire: %w", err)
	}

	m.mu.Lock()
	idx := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	if m.allocated[idx] {
		m.mu.Unlock()
		m.sem.Release(1)
		// Unreachable under correct bookkeeping: the semaphore bounds
		// outstanding leases to len(free)+len(allocated)==capacity, and an
		// index only re-enters free via release(), which first deletes it
		// from allocated. Treated as a fatal invariant violation rather
		// than silently handed out twice.
		panic(fmt.Sprintf("slotlease: index %d already allocated", idx))
	}
	m.allocated[idx] = true
	m.mu.Unlock()

	log.Trace("slot lease acquired", "index", idx)
	return &Lease{Index: idx, manager: m}, nil
}

// TryAcquire attempts a non-blocking acquire, returning (nil, false) if
// no slot is immediately available.
func (m *Manager) TryAcquire() (*Lease, bool) {
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	m.mu.Lock()
	idx := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.allocated[idx] = true
	m.mu.Unlock()
	log.Trace("slot lease acquired (non-blocking)", "index", idx)
	return &Lease{Index: idx, manager: m}, true
}

// AcquireN attempts to acquire n distinct slot indices, stopping at the
// first acquisition failure and returning whatever it already holds
// rather than releasing and failing outright. It only returns an error
// when it could not obtain a single lease.
func (m *Manager) AcquireN(ctx context.Context, n int) ([]*Lease, error) {
	leases := make([]*Lease, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		l, err := m.Acquire(ctx)
		if err != nil {
			lastErr = err
			break
		}
		leases = append(leases, l)
	}
	if len(leases) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("slotlease: no slots acquired")
		}
		return nil, lastErr
	}
	return leases, nil
}

// Outstanding returns the number of currently held leases.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocated)
}

// Capacity returns the manager's fixed maximum concurrent lease count.
func (m *Manager) Capacity() int {
	return m.capacity
}

func (m *Manager) release(idx int) {
	m.mu.Lock()
	if !m.allocated[idx] {
		m.mu.Unlock()
		log.Warn("slotlease: release of index not currently allocated", "index", idx)
		return
	}
	delete(m.allocated, idx)
	m.free = append(m.free, idx)
	m.mu.Unlock()

	m.sem.Release(1)
	log.Trace("slot lease released", "index", idx)
}
