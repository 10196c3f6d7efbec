package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an in-process counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricLoginSuccess
	MetricLoginFailure
	MetricMFARequired
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplay
	MetricRateLimitHit
	MetricSessionCreated
	MetricLogout
	MetricAuthTokenVerified
	MetricAuthTokenRejected
	MetricConfirmationRequested
	MetricConfirmed
	MetricPasswordChanged
	MetricGroupCreated
	MetricInvitationIssued
	MetricInvitationConsumed
	MetricAccessTokenIssued
	MetricACLTokenIssued
	MetricAuthorizationDenied
	MetricAgentCreated
	MetricAgentDeleted
	MetricAgentLoginSuccess
	MetricAgentLoginFailure
	MetricCredentialsCreated
	MetricCredentialsRevealed
	MetricCredentialsDeleted
	MetricConcurrencyRetry
	MetricRetriesExhausted
	MetricSnapshotWritten
	MetricSnapshotFailure
	MetricPublishFailure
	MetricProjectionFailure
	MetricInfrastructureFailure
	MetricCommandLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters and one latency histogram.
// A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the command latency histogram. Other ids are
// ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricCommandLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricCommandLatency].buckets[i])
		}
		s.Histograms[MetricCommandLatency] = buckets
	}
	return s
}

// HistogramBounds returns the upper bound of every bucket but the last,
// which is unbounded.
func HistogramBounds() []time.Duration {
	return []time.Duration{
		5 * time.Millisecond, 10 * time.Millisecond, 25 * time.Millisecond, 50 * time.Millisecond,
		100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond,
	}
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds() {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
