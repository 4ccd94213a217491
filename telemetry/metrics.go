// Package telemetry provides Prometheus metrics and optional OpenTelemetry
// tracing for the rotation controller.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RotationsStarted   prometheus.Counter
	RotationsSucceeded prometheus.Counter
	RotationsFailed    prometheus.Counter
	AgentRestarts      prometheus.Counter
	AgentCrashes       prometheus.Counter
	SessionsCreated    prometheus.Counter

	// Histograms (seconds)
	HandoffDuration       prometheus.Observer
	SessionCreateDuration prometheus.Observer

	// Gauges
	CurrentSessionGauge   prometheus.Gauge // local sequence number of the live session
	RemainingSecondsGauge prometheus.Gauge
	QuotaExhaustedGauge   prometheus.Gauge // 1=cooling down after quota error
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RotationsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_rotations_started_total", Help: "Number of session handoffs started"})
		RotationsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_rotations_succeeded_total", Help: "Number of session handoffs completed"})
		RotationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_rotations_failed_total", Help: "Number of session handoffs that failed and kept the old session"})
		AgentRestarts = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_agent_restarts_total", Help: "Number of in-place relay restarts"})
		AgentCrashes = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_agent_crashes_total", Help: "Number of relay crashes detected"})
		SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "camlive_sessions_created_total", Help: "Number of broadcast sessions created"})
		HandoffDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "camlive_handoff_duration_seconds", Help: "Handoff duration seconds", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
		SessionCreateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "camlive_session_create_duration_seconds", Help: "Session creation duration seconds", Buckets: prometheus.DefBuckets})
		CurrentSessionGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "camlive_current_session", Help: "Sequence number of the current session"})
		RemainingSecondsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "camlive_rotation_remaining_seconds", Help: "Seconds until the current session's rotation deadline"})
		QuotaExhaustedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "camlive_quota_exhausted", Help: "API quota cool-down active=1 inactive=0"})
	})
}

// SetQuotaExhausted flips the quota cool-down gauge.
func SetQuotaExhausted(exhausted bool) {
	if QuotaExhaustedGauge == nil {
		return
	}
	if exhausted {
		QuotaExhaustedGauge.Set(1)
	} else {
		QuotaExhaustedGauge.Set(0)
	}
}

// SetCurrentSession records the sequence number of the live session.
func SetCurrentSession(seq int64) {
	if CurrentSessionGauge != nil {
		CurrentSessionGauge.Set(float64(seq))
	}
}

// SetRemainingSeconds records time to the rotation deadline.
func SetRemainingSeconds(s float64) {
	if RemainingSecondsGauge != nil {
		RemainingSecondsGauge.Set(s)
	}
}
