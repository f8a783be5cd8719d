// Package obs collects lightweight counters surfaced through the health
// endpoint. All methods are safe for concurrent use.
package obs

import (
	"sync/atomic"
	"time"
)

// Health aggregates pipeline liveness signals. Failures are counted here
// instead of propagating as crashes; repeated retention failures surface
// as a growing store size next to a stale LastRetentionSweep.
type Health struct {
	queueDrops         atomic.Uint64
	storeWriteFailures atomic.Uint64
	retentionFailures  atomic.Uint64
	degraded           atomic.Int64
	lastScoringPass    atomic.Int64 // unix nano
	lastRetentionSweep atomic.Int64 // unix nano
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	QueueDrops         uint64
	StoreWriteFailures uint64
	RetentionFailures  uint64
	DegradedSymbols    int64
	LastScoringPass    time.Time
	LastRetentionSweep time.Time
}

func NewHealth() *Health {
	return &Health{}
}

func (h *Health) IncQueueDrop() {
	if h == nil {
		return
	}
	h.queueDrops.Add(1)
}

func (h *Health) IncStoreWriteFailure() {
	if h == nil {
		return
	}
	h.storeWriteFailures.Add(1)
}

func (h *Health) IncRetentionFailure() {
	if h == nil {
		return
	}
	h.retentionFailures.Add(1)
}

// SetDegraded records the current number of degraded symbols.
func (h *Health) SetDegraded(n int) {
	if h == nil {
		return
	}
	h.degraded.Store(int64(n))
}

func (h *Health) MarkScoringPass(at time.Time) {
	if h == nil {
		return
	}
	h.lastScoringPass.Store(at.UnixNano())
}

func (h *Health) MarkRetentionSweep(at time.Time) {
	if h == nil {
		return
	}
	h.lastRetentionSweep.Store(at.UnixNano())
}

func (h *Health) Snapshot() Snapshot {
	if h == nil {
		return Snapshot{}
	}
	return Snapshot{
		QueueDrops:         h.queueDrops.Load(),
		StoreWriteFailures: h.storeWriteFailures.Load(),
		RetentionFailures:  h.retentionFailures.Load(),
		DegradedSymbols:    h.degraded.Load(),
		LastScoringPass:    nanoTime(h.lastScoringPass.Load()),
		LastRetentionSweep: nanoTime(h.lastRetentionSweep.Load()),
	}
}

func nanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
