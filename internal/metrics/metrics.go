// Package metrics tracks performance and operational statistics for a
// running kernel instance.
package metrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the scheduling-latency histogram buckets in
// nanoseconds, covering from 1us to 10s with logarithmic spacing.
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

// Metrics tracks task-switch, sync-object and allocator activity for one
// kernel instance.
type Metrics struct {
	// Scheduling
	TaskSwitches    atomic.Uint64 // Total context switches performed
	TickCount       atomic.Uint64 // Total ticks processed
	PriorityRaises  atomic.Uint64 // Priority-inheritance raise events

	// Sync-object operation counters
	MutexTakes    atomic.Uint64
	MutexTimeouts atomic.Uint64
	SemTakes      atomic.Uint64
	SemTimeouts   atomic.Uint64
	QueueSends    atomic.Uint64
	QueueTimeouts atomic.Uint64
	SignalWaits   atomic.Uint64
	SignalTimeouts atomic.Uint64
	PoolTakes     atomic.Uint64
	PoolDepleted  atomic.Uint64

	// Ready-set statistics
	ReadyDepthTotal atomic.Uint64 // Cumulative ready-queue depth samples
	ReadyDepthCount atomic.Uint64 // Number of ready-queue depth measurements
	MaxReadyDepth   atomic.Uint32 // Maximum observed ready-queue depth

	// Scheduling latency: time from make_ready to the task actually running
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// New creates a new metrics instance with its start time set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSwitch records a context switch and the scheduling latency that
// preceded it.
func (m *Metrics) RecordSwitch(latencyNs uint64) {
	m.TaskSwitches.Add(1)
	m.recordLatency(latencyNs)
}

// RecordTick records one tick having been processed.
func (m *Metrics) RecordTick() {
	m.TickCount.Add(1)
}

// RecordPriorityRaise records a priority-inheritance propagation step.
func (m *Metrics) RecordPriorityRaise() {
	m.PriorityRaises.Add(1)
}

// RecordMutexTake records a mutex take, successful or timed out.
func (m *Metrics) RecordMutexTake(timedOut bool) {
	m.MutexTakes.Add(1)
	if timedOut {
		m.MutexTimeouts.Add(1)
	}
}

// RecordSemTake records a semaphore take, successful or timed out.
func (m *Metrics) RecordSemTake(timedOut bool) {
	m.SemTakes.Add(1)
	if timedOut {
		m.SemTimeouts.Add(1)
	}
}

// RecordQueueSend records a message-queue send, successful or timed out.
func (m *Metrics) RecordQueueSend(timedOut bool) {
	m.QueueSends.Add(1)
	if timedOut {
		m.QueueTimeouts.Add(1)
	}
}

// RecordSignalWait records a task-signal wait, successful or timed out.
func (m *Metrics) RecordSignalWait(timedOut bool) {
	m.SignalWaits.Add(1)
	if timedOut {
		m.SignalTimeouts.Add(1)
	}
}

// RecordPoolTake records a buffer-pool take, successful or depleted.
func (m *Metrics) RecordPoolTake(depleted bool) {
	m.PoolTakes.Add(1)
	if depleted {
		m.PoolDepleted.Add(1)
	}
}

// RecordReadyDepth records the current total ready-set population.
func (m *Metrics) RecordReadyDepth(depth uint32) {
	m.ReadyDepthTotal.Add(uint64(depth))
	m.ReadyDepthCount.Add(1)
	for {
		current := m.MaxReadyDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxReadyDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time copy of Metrics suitable for reporting.
type Snapshot struct {
	TaskSwitches   uint64
	TickCount      uint64
	PriorityRaises uint64

	MutexTakes     uint64
	MutexTimeouts  uint64
	SemTakes       uint64
	SemTimeouts    uint64
	QueueSends     uint64
	QueueTimeouts  uint64
	SignalWaits    uint64
	SignalTimeouts uint64
	PoolTakes      uint64
	PoolDepleted   uint64

	AvgReadyDepth float64
	MaxReadyDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot captures the current metrics state. Pair it with Reset under the
// kernel critical section when a caller needs atomic read-then-clear
// semantics, so that no tick's accrual is split between the read and the
// clear.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		TaskSwitches:   m.TaskSwitches.Load(),
		TickCount:      m.TickCount.Load(),
		PriorityRaises: m.PriorityRaises.Load(),
		MutexTakes:     m.MutexTakes.Load(),
		MutexTimeouts:  m.MutexTimeouts.Load(),
		SemTakes:       m.SemTakes.Load(),
		SemTimeouts:    m.SemTimeouts.Load(),
		QueueSends:     m.QueueSends.Load(),
		QueueTimeouts:  m.QueueTimeouts.Load(),
		SignalWaits:    m.SignalWaits.Load(),
		SignalTimeouts: m.SignalTimeouts.Load(),
		PoolTakes:      m.PoolTakes.Load(),
		PoolDepleted:   m.PoolDepleted.Load(),
		MaxReadyDepth:  m.MaxReadyDepth.Load(),
	}

	depthTotal := m.ReadyDepthTotal.Load()
	depthCount := m.ReadyDepthCount.Load()
	if depthCount > 0 {
		snap.AvgReadyDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset clears every counter back to zero and restarts the uptime clock.
// Callers that need the clear to be atomic with respect to a concurrent
// tick take the kernel critical section around Snapshot+Reset.
func (m *Metrics) Reset() {
	m.TaskSwitches.Store(0)
	m.TickCount.Store(0)
	m.PriorityRaises.Store(0)
	m.MutexTakes.Store(0)
	m.MutexTimeouts.Store(0)
	m.SemTakes.Store(0)
	m.SemTimeouts.Store(0)
	m.QueueSends.Store(0)
	m.QueueTimeouts.Store(0)
	m.SignalWaits.Store(0)
	m.SignalTimeouts.Store(0)
	m.PoolTakes.Store(0)
	m.PoolDepleted.Store(0)
	m.ReadyDepthTotal.Store(0)
	m.ReadyDepthCount.Store(0)
	m.MaxReadyDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of kernel events, independent of the
// built-in Metrics implementation.
type Observer interface {
	ObserveSwitch(latencyNs uint64)
	ObserveTick()
	ObserveReadyDepth(depth uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSwitch(uint64)     {}
func (NoOpObserver) ObserveTick()             {}
func (NoOpObserver) ObserveReadyDepth(uint32) {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSwitch(latencyNs uint64) { o.metrics.RecordSwitch(latencyNs) }
func (o *MetricsObserver) ObserveTick()                   { o.metrics.RecordTick() }
func (o *MetricsObserver) ObserveReadyDepth(depth uint32)  { o.metrics.RecordReadyDepth(depth) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
