// Package candidate implements the TTL-bounded, deduplicating staging
// queue that sits between the on-chain sniffer and the execution engine.
//
// A hash-keyed map is guarded by a single mutex, with a parallel
// ordering slice so eviction and "oldest" selection don't need a heap
// for the buffer sizes this system runs at (low thousands at most).
package candidate

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/solraceio/sniper/types"
)

type entry struct {
	candidate types.PremintCandidate
	seenAt    time.Time
}

// Buffer is a mutex-guarded, deduplicating, TTL-bounded store of observed
// mint candidates with oldest-first selection and capacity eviction.
type Buffer struct {
	mu      sync.Mutex
	byMint  map[types.Pubkey]*entry
	order   []*entry // ordered by seenAt, oldest first; append-only until a removal compacts it
	ttl     time.Duration
	maxSize int
}

// New creates a buffer with the given TTL and capacity. A zero maxSize
// disables capacity eviction; a zero ttl expires every entry immediately.
func New(ttl time.Duration, maxSize int) *Buffer {
	return &Buffer{
		byMint:  make(map[types.Pubkey]*entry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Push inserts c if its mint is not already present, first running a
// TTL cleanup and then, if at capacity, evicting the oldest entry.
// Returns false for a duplicate mint (and the candidate is dropped).
func (b *Buffer) Push(c types.PremintCandidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanupLocked(time.Now())

	if _, exists := b.byMint[c.Mint]; exists {
		return false
	}

	if b.maxSize > 0 && len(b.byMint) >= b.maxSize {
		b.evictOldestLocked()
	}

	e := &entry{candidate: c, seenAt: time.Now()}
	b.byMint[c.Mint] = e
	b.order = append(b.order, e)
	return true
}

// PopBest removes and returns the oldest (by seen-at) candidate, running
// a TTL cleanup first. Returns false if the buffer is empty afterward.
func (b *Buffer) PopBest() (types.PremintCandidate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanupLocked(time.Now())

	if len(b.order) == 0 {
		return types.PremintCandidate{}, false
	}
	oldest := b.order[0]
	b.removeLocked(oldest)
	return oldest.candidate, true
}

// Cleanup removes every entry older than the configured TTL and returns
// the number removed. A zero TTL expires everything immediately.
func (b *Buffer) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleanupLocked(time.Now())
}

// Len returns the current number of stored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byMint)
}

func (b *Buffer) cleanupLocked(now time.Time) int {
	if b.ttl <= 0 {
		removed := len(b.order)
		b.byMint = make(map[types.Pubkey]*entry)
		b.order = nil
		return removed
	}

	removed := 0
	kept := b.order[:0]
	for _, e := range b.order {
		if now.Sub(e.seenAt) >= b.ttl {
			delete(b.byMint, e.candidate.Mint)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	b.order = kept
	if removed > 0 {
		log.Trace("candidate buffer cleanup", "removed", removed, "remaining", len(b.order))
	}
	return removed
}

// evictOldestLocked drops the entry with the smallest seenAt to make
// room for an incoming push. Callers hold b.mu and have just run cleanup,
// so b.order is non-empty whenever this is reached from Push at capacity.
func (b *Buffer) evictOldestLocked() {
	if len(b.order) == 0 {
		return
	}
	oldest := b.order[0]
	b.removeLocked(oldest)
	log.Debug("candidate buffer evicted oldest entry", "mint", oldest.candidate.Mint)
}

func (b *Buffer) removeLocked(e *entry) {
	delete(b.byMint, e.candidate.Mint)
	for i, o := range b.order {
		if o == e {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
