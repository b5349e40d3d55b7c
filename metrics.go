package authflow

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authflow/internal/flows"
)

// MetricID names one counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricCodeSent
	MetricCodeResent
	MetricCodeExpired
	MetricCodeInvalid
	MetricResyncSuccess
	MetricResyncFailure
	// MetricResyncDiscarded counts resync responses dropped because a
	// fresher update had already been applied.
	MetricResyncDiscarded
	MetricRegistrationSuccess
	MetricEnrollmentCompleted
	MetricReverifySuccess
	MetricPasswordChanged
	MetricProfileUpdated
	MetricFlowCancelled
	// MetricSessionRejected counts sessions cleared after the authority
	// rejected their token.
	MetricSessionRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRemoteSessionChange counts session changes made by other tabs.
	MetricRemoteSessionChange
	// MetricAuthorityLatency is the round-trip latency of authority calls.
	MetricAuthorityLatency
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

// Metrics holds lock-free counters for one Client.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are per-bucket counts, not cumulative.
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

// Inc adds one to a counter. It is a no-op on a nil or disabled Metrics.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only MetricAuthorityLatency has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthorityLatency {
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
		if id == MetricAuthorityLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthorityLatency].buckets[i])
		}
		s.Histograms[MetricAuthorityLatency] = buckets
	}

	return s
}

// Bucket upper bounds: 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}

// flowMetrics maps the machine's counters onto MetricIDs.
func flowMetrics() flows.Metrics {
	return flows.Metrics{
		LoginSuccess:        int(MetricLoginSuccess),
		LoginFailure:        int(MetricLoginFailure),
		LoginRateLimited:    int(MetricLoginRateLimited),
		MFARequired:         int(MetricMFARequired),
		MFASuccess:          int(MetricMFASuccess),
		MFAFailure:          int(MetricMFAFailure),
		CodeSent:            int(MetricCodeSent),
		CodeResent:          int(MetricCodeResent),
		CodeExpired:         int(MetricCodeExpired),
		CodeInvalid:         int(MetricCodeInvalid),
		ResyncSuccess:       int(MetricResyncSuccess),
		ResyncFailure:       int(MetricResyncFailure),
		ResyncDiscarded:     int(MetricResyncDiscarded),
		RegistrationSuccess: int(MetricRegistrationSuccess),
		EnrollmentCompleted: int(MetricEnrollmentCompleted),
		ReverifySuccess:     int(MetricReverifySuccess),
		PasswordChanged:     int(MetricPasswordChanged),
		ProfileUpdated:      int(MetricProfileUpdated),
		FlowCancelled:       int(MetricFlowCancelled),
		SessionRejected:     int(MetricSessionRejected),
	}
}
