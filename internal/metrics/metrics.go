// Package metrics counts edge decisions and origin round trips and exports
// them in Prometheus text format.
//
// Design:
// - In-memory counters (atomic on the hot path)
// - Decision counters keyed by leg, outcome and internal reason
// - Simple fixed-bucket latency histogram for origin requests
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tyrauber/sst-maps/internal/gateway"
)

// DecisionKey identifies one decision counter.
type DecisionKey struct {
	Leg     string
	Outcome string
	Reason  string
}

// Collector holds all metrics for the edge. It implements
// gateway.Observer.
type Collector struct {
	mu        sync.RWMutex
	decisions map[DecisionKey]*atomic.Int64

	// Origin round trips
	originTotal    atomic.Int64
	originFailures atomic.Int64
	originLatency  atomic.Int64 // nanoseconds

	latencyBuckets  []atomic.Int64 // one per boundary plus overflow
	latencyBucketMs []int

	startTime time.Time
}

var _ gateway.Observer = (*Collector)(nil)

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	// 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 5s
	buckets := []int{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	return &Collector{
		decisions:       make(map[DecisionKey]*atomic.Int64),
		latencyBuckets:  make([]atomic.Int64, len(buckets)+1),
		latencyBucketMs: buckets,
		startTime:       time.Now(),
	}
}

// ObserveDecision records one gateway decision.
func (c *Collector) ObserveDecision(leg gateway.Leg, outcome gateway.Outcome, reason string) {
	c.counter(DecisionKey{Leg: leg.String(), Outcome: outcome.String(), Reason: reason}).Add(1)
}

// RecordOrigin records one request forwarded to the origin. failed is true
// when no response was received.
func (c *Collector) RecordOrigin(failed bool, latency time.Duration) {
	c.originTotal.Add(1)
	if failed {
		c.originFailures.Add(1)
	}
	c.originLatency.Add(int64(latency))
	c.recordLatency(latency)
}

func (c *Collector) recordLatency(d time.Duration) {
	ms := d.Milliseconds()
	bucket := len(c.latencyBucketMs) // overflow

	for i, boundary := range c.latencyBucketMs {
		if ms <= int64(boundary) {
			bucket = i
			break
		}
	}
	c.latencyBuckets[bucket].Add(1)
}

func (c *Collector) counter(k DecisionKey) *atomic.Int64 {
	c.mu.RLock()
	n, ok := c.decisions[k]
	c.mu.RUnlock()
	if ok {
		return n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.decisions[k]; ok {
		return n
	}
	n = new(atomic.Int64)
	c.decisions[k] = n
	return n
}

// Decision is one row of Snapshot.Decisions.
type Decision struct {
	Leg     string `json:"leg"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Count   int64  `json:"count"`
}

// Bucket is one histogram bucket; UpperMs is -1 for the overflow bucket.
type Bucket struct {
	UpperMs int   `json:"upper_ms"`
	Count   int64 `json:"count"`
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime time.Duration `json:"uptime_ns"`

	Decisions []Decision `json:"decisions"`

	OriginTotal     int64    `json:"origin_total"`
	OriginFailures  int64    `json:"origin_failures"`
	OriginAvgMs     float64  `json:"origin_avg_ms"`
	OriginHistogram []Bucket `json:"origin_histogram"`
}

// Snapshot returns current metrics. Decisions are sorted by leg, outcome
// and reason.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	decisions := make([]Decision, 0, len(c.decisions))
	for k, n := range c.decisions {
		decisions = append(decisions, Decision{Leg: k.Leg, Outcome: k.Outcome, Reason: k.Reason, Count: n.Load()})
	}
	c.mu.RUnlock()

	sort.Slice(decisions, func(i, j int) bool {
		a, b := decisions[i], decisions[j]
		if a.Leg != b.Leg {
			return a.Leg < b.Leg
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		return a.Reason < b.Reason
	})

	total := c.originTotal.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(c.originLatency.Load()) / float64(total) / float64(time.Millisecond)
	}

	hist := make([]Bucket, len(c.latencyBuckets))
	for i := range c.latencyBuckets {
		upper := -1
		if i < len(c.latencyBucketMs) {
			upper = c.latencyBucketMs[i]
		}
		hist[i] = Bucket{UpperMs: upper, Count: c.latencyBuckets[i].Load()}
	}

	return Snapshot{
		Uptime:          time.Since(c.startTime),
		Decisions:       decisions,
		OriginTotal:     total,
		OriginFailures:  c.originFailures.Load(),
		OriginAvgMs:     avg,
		OriginHistogram: hist,
	}
}

// Count returns a single decision counter, or 0.
func (c *Collector) Count(leg gateway.Leg, outcome gateway.Outcome, reason string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.decisions[DecisionKey{Leg: leg.String(), Outcome: outcome.String(), Reason: reason}]; ok {
		return n.Load()
	}
	return 0
}

// Reset resets all metrics. Useful for testing.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.decisions = make(map[DecisionKey]*atomic.Int64)
	c.mu.Unlock()

	c.originTotal.Store(0)
	c.originFailures.Store(0)
	c.originLatency.Store(0)
	for i := range c.latencyBuckets {
		c.latencyBuckets[i].Store(0)
	}
}
