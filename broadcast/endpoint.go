package broadcast

import (
	"sort"
	"sync"
	"time"
)

// EndpointMetrics tracks per-endpoint submission history used to rank
// endpoints for broadcast ordering. Success rate defaults to 1.0 (optimistic)
// until at least one attempt has completed.
type EndpointMetrics struct {
	mu           sync.Mutex
	successCount uint64
	failureCount uint64
	emaLatencyMs float64
	lastSuccess  time.Time
	lastFailure  time.Time
}

// emaAlpha weights the most recent latency sample against the running
// average; 0.3 reacts within a handful of samples without being noisy.
const emaAlpha = 0.3

// RecordSuccess updates the metrics for a successful send that took
// latency to complete.
func (m *EndpointMetrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCount++
	m.updateEMALocked(latency)
	m.lastSuccess = time.Now()
}

// RecordFailure updates the metrics for a failed send that took latency
// to return an answer (including the timeout duration for a hard timeout).
func (m *EndpointMetrics) RecordFailure(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCount++
	m.updateEMALocked(latency)
	m.lastFailure = time.Now()
}

func (m *EndpointMetrics) updateEMALocked(latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0
	if m.successCount+m.failureCount <= 1 {
		m.emaLatencyMs = ms
		return
	}
	m.emaLatencyMs = emaAlpha*ms + (1-emaAlpha)*m.emaLatencyMs
}

// Snapshot is a point-in-time, immutable copy of an endpoint's metrics.
type Snapshot struct {
	SuccessCount uint64
	FailureCount uint64
	EMALatencyMs float64
	LastSuccess  time.Time
	LastFailure  time.Time
}

// SuccessRate returns SuccessCount/(SuccessCount+FailureCount), defaulting
// to 1.0 when no attempts have been recorded yet.
func (s Snapshot) SuccessRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(total)
}

// Score implements the adaptive ranking formula: higher is better.
func (s Snapshot) Score() float64 {
	return s.SuccessRate() * 1000 / (s.EMALatencyMs + 100)
}

// Snapshot returns a consistent copy of the current metrics.
func (m *EndpointMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		SuccessCount: m.successCount,
		FailureCount: m.failureCount,
		EMALatencyMs: m.emaLatencyMs,
		LastSuccess:  m.lastSuccess,
		LastFailure:  m.lastFailure,
	}
}

// rankEndpoints returns endpoint indices ordered best-score-first.
func rankEndpoints(snapshots []Snapshot) []int {
	rank := make([]int, len(snapshots))
	for i := range rank {
		rank[i] = i
	}
	sort.SliceStable(rank, func(i, j int) bool {
		return snapshots[rank[i]].Score() > snapshots[rank[j]].Score()
	})
	return rank
}
