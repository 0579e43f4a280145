package mailotp

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricOTPRequested counts accepted RequestOTP calls.
	MetricOTPRequested MetricID = iota
	// MetricRequestRateLimited counts RequestOTP refusals, any scope.
	MetricRequestRateLimited
	// MetricOTPVerified counts successful verifications.
	MetricOTPVerified
	// MetricVerifyFailed counts failed verifications (wrong, expired, or
	// never-issued codes; the engine does not distinguish).
	MetricVerifyFailed
	// MetricLockoutHit counts verifications refused by an active lockout,
	// plus the failing attempt that tripped the lock.
	MetricLockoutHit
	// MetricStoreError counts requests aborted because Redis was
	// unreachable.
	MetricStoreError
	// MetricTokensIssued counts issued token pairs.
	MetricTokensIssued

	metricIDCount
)

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different IDs do not false-share.
type paddedCounter struct {
	value uint64
	_     [7]uint64
}

// Metrics is a fixed set of in-process atomic counters. A disabled Metrics
// turns every operation into a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates the counter set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counting is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter. Unknown IDs are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Counters incremented concurrently with
// the snapshot may or may not be included.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
