package ledger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks facade counters both as atomics (for GetMetrics snapshots)
// and as Prometheus collectors (for scraping).
type Metrics struct {
	eventsLogged           atomic.Int64
	decisionsLogged        atomic.Int64
	complianceEventsLogged atomic.Int64
	errors                 atomic.Int64

	mu           sync.Mutex
	lastLoggedAt time.Time

	promEvents     *prometheus.CounterVec
	promErrors     prometheus.Counter
	promAppendTime prometheus.Histogram
	promVerifyTime prometheus.Histogram
}

// NewMetrics creates and registers the ledger collectors. Registration
// errors (duplicate collectors in tests) are ignored via the registerer's
// Unregister-free AlreadyRegistered handling.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit_ledger",
			Name:      "events_logged_total",
			Help:      "Audit events appended to the ledger, by class.",
		}, []string{"class"}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audit_ledger",
			Name:      "errors_total",
			Help:      "Write-path failures surfaced to callers.",
		}),
		promAppendTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audit_ledger",
			Name:      "append_duration_seconds",
			Help:      "Latency of the encrypt-hash-append sequence.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		promVerifyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audit_ledger",
			Name:      "verification_duration_seconds",
			Help:      "Latency of full chain verification walks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.promEvents, m.promErrors, m.promAppendTime, m.promVerifyTime,
		} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return m
}

func (m *Metrics) recordEvent(class string) {
	switch class {
	case "decision":
		m.decisionsLogged.Add(1)
	case "compliance":
		m.complianceEventsLogged.Add(1)
	default:
		m.eventsLogged.Add(1)
	}
	m.promEvents.WithLabelValues(class).Inc()

	m.mu.Lock()
	m.lastLoggedAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Metrics) recordError() {
	m.errors.Add(1)
	m.promErrors.Inc()
}

func (m *Metrics) observeAppend(d time.Duration) {
	m.promAppendTime.Observe(d.Seconds())
}

func (m *Metrics) observeVerification(d time.Duration) {
	m.promVerifyTime.Observe(d.Seconds())
}

// Snapshot returns a point-in-time copy of the counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		EventsLogged:           m.eventsLogged.Load(),
		DecisionsLogged:        m.decisionsLogged.Load(),
		ComplianceEventsLogged: m.complianceEventsLogged.Load(),
		Errors:                 m.errors.Load(),
	}
	m.mu.Lock()
	if !m.lastLoggedAt.IsZero() {
		t := m.lastLoggedAt
		snap.LastLoggedAt = &t
	}
	m.mu.Unlock()
	return snap
}
