package telemetry

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/prometheus/client_golang/prometheus"
)

// Latency is a bounded ring buffer of recent query durations (C10). Reads
// (percentiles, mean) run in O(n log n) over a sorted copy; writes are O(1).
// A prometheus histogram mirrors the same observations for ambient
// dashboards, alongside the mandated ring buffer — never a substitute for it.
type Latency struct {
	mu       sync.Mutex
	buf      []time.Duration
	cap      int
	next     int
	filled   bool
	hist     prometheus.Histogram
}

// DefaultLatencyCapacity matches spec §4.9's ring buffer of up to 100
// durations.
const DefaultLatencyCapacity = 100

// NewLatency returns a Latency tracker with the given ring buffer capacity.
// A capacity of 0 defaults to DefaultLatencyCapacity.
func NewLatency(capacity int) *Latency {
	if capacity <= 0 {
		capacity = DefaultLatencyCapacity
	}
	return &Latency{
		buf: make([]time.Duration, capacity),
		cap: capacity,
		hist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragcore_query_duration_seconds",
			Help:    "Observed end-to-end query durations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Collector exposes the prometheus histogram for registration by a caller
// that runs a metrics endpoint; ragcore itself never registers globally.
func (l *Latency) Collector() prometheus.Collector { return l.hist }

// Record appends a duration, evicting the oldest entry once the ring is
// full.
func (l *Latency) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = d
	l.next = (l.next + 1) % l.cap
	if l.next == 0 {
		l.filled = true
	}
	l.hist.Observe(d.Seconds())
}

// snapshot returns a defensive copy of the recorded durations, oldest first.
func (l *Latency) snapshot() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.filled {
		n = l.cap
	}
	out := make([]time.Duration, n)
	if !l.filled {
		copy(out, l.buf[:n])
		return out
	}
	copy(out, l.buf[l.next:])
	copy(out[l.cap-l.next:], l.buf[:l.next])
	return out
}

// Stats summarizes the current ring buffer contents.
type Stats struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Stats computes count, mean, and the p50/p95/p99 percentiles via
// nearest-rank: index = ceil(p/100*n) - 1 on a sorted copy, per spec §4.9.
func (l *Latency) Stats() Stats {
	samples := l.snapshot()
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	millis := make([]float64, n)
	var sum float64
	for i, d := range samples {
		ms := float64(d.Milliseconds())
		millis[i] = ms
		sum += ms
	}
	floats.Sort(millis)

	percentile := func(p float64) time.Duration {
		idx := int(math.Ceil(p/100*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return time.Duration(millis[idx]) * time.Millisecond
	}

	return Stats{
		Count: n,
		Mean:  time.Duration(sum/float64(n)) * time.Millisecond,
		P50:   percentile(50),
		P95:   percentile(95),
		P99:   percentile(99),
	}
}
