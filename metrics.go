package engine

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the op-latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks dispatch and execution statistics for one engine instance.
// All fields are lock-free atomics: Observer methods are called from worker
// goroutines and must never block behind a variable or pool-queue lock.
type Metrics struct {
	OpsPushed     atomic.Uint64 // total operators submitted via Push/PushSync/PushAsync
	OpsDispatched atomic.Uint64 // total operators whose wait counter reached zero
	OpsCompleted  atomic.Uint64 // total operators whose completion fired
	OpsFailed     atomic.Uint64 // total operators completed with a non-nil error (including recovered panics)

	// Queue depth statistics, sampled at enqueue time.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Latency from a pool worker starting the operator to its completion
	// firing, in nanoseconds. The naive kind records 0.
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // engine construction time (UnixNano)
	StopTime  atomic.Int64 // engine Stop() time (UnixNano), 0 while running
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPush records an operator submission.
func (m *Metrics) RecordPush() { m.OpsPushed.Add(1) }

// RecordDispatch records an operator becoming ready and being handed to a pool.
func (m *Metrics) RecordDispatch(queueDepth uint32) {
	m.OpsDispatched.Add(1)
	m.QueueDepthTotal.Add(uint64(queueDepth))
	m.QueueDepthCount.Add(1)
	for {
		cur := m.MaxQueueDepth.Load()
		if queueDepth <= cur || m.MaxQueueDepth.CompareAndSwap(cur, queueDepth) {
			break
		}
	}
}

// RecordCompletion records an operator's completion callback firing.
func (m *Metrics) RecordCompletion(latencyNs uint64, failed bool) {
	m.OpsCompleted.Add(1)
	if failed {
		m.OpsFailed.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			m.LatencyBuckets[i].Add(1)
			return
		}
	}
}

// AverageLatency returns the mean op latency, or 0 if no samples recorded.
func (m *Metrics) AverageLatency() time.Duration {
	count := m.LatencyCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(m.TotalLatencyNs.Load() / count)
}

// AverageQueueDepth returns the mean sampled queue depth, or 0 if unsampled.
func (m *Metrics) AverageQueueDepth() float64 {
	count := m.QueueDepthCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.QueueDepthTotal.Load()) / float64(count)
}

// MarkStopped stamps StopTime with the current time.
func (m *Metrics) MarkStopped() { m.StopTime.Store(time.Now().UnixNano()) }

// Observer receives metrics events. Implementations must be safe for
// concurrent use; ObserveDispatch runs on whichever goroutine enqueues a
// ready operator (a pushing caller or a completing worker) and
// ObserveCompletion on the goroutine that fires completion, never while
// holding a variable or pool-queue lock.
type Observer interface {
	ObserveDispatch(device int, queueDepth uint32)
	ObserveCompletion(device int, latency time.Duration, failed bool)
}

// metricsObserver adapts *Metrics to the Observer interface.
type metricsObserver struct{ m *Metrics }

func (o metricsObserver) ObserveDispatch(_ int, queueDepth uint32) {
	o.m.RecordDispatch(queueDepth)
}

func (o metricsObserver) ObserveCompletion(_ int, latency time.Duration, failed bool) {
	o.m.RecordCompletion(uint64(latency.Nanoseconds()), failed)
}
