// Package metrics provides in-memory timing statistics for a submission run.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count    int64
	Failures int64
	Total    time.Duration
	Avg      time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Snapshot represents the run statistics at a point in time.
type Snapshot struct {
	Elapsed time.Duration
	Listing *OperationSnapshot
	Submit  *OperationSnapshot
	Spawn   *OperationSnapshot
	JobRun  *OperationSnapshot
}

// Operation names for the collector.
const (
	OpListing = "listing"
	OpSubmit  = "submit"
	OpSpawn   = "spawn"
	OpJobRun  = "job_run"
)

// Collector aggregates in-memory run statistics.
// All methods are thread-safe; discovery records from several goroutines.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordFailure records timing for an operation that failed.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	c.record(op, duration, true)
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	if failed {
		m.Failures++
	}
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Since records the time elapsed from start. Meant for defer.
func (c *Collector) Since(op string, start time.Time) {
	c.RecordTiming(op, time.Since(start))
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:    m.Count,
		Failures: m.Failures,
		Total:    m.TotalTime,
		Avg:      m.TotalTime / time.Duration(m.Count),
		Min:      m.MinTime,
		Max:      m.MaxTime,
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Elapsed: time.Since(c.startTime),
		Listing: snapshotOp(c.ops[OpListing]),
		Submit:  snapshotOp(c.ops[OpSubmit]),
		Spawn:   snapshotOp(c.ops[OpSpawn]),
		JobRun:  snapshotOp(c.ops[OpJobRun]),
	}
}
