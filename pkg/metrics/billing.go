package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records scheduled billing run outcomes.
type BillingMetrics struct {
	duration      *prometheus.HistogramVec
	success       *prometheus.CounterVec
	failure       *prometheus.CounterVec
	cycles        prometheus.Counter
	chargesFailed prometheus.Counter
	linesDropped  prometheus.Counter
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of scheduled jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful scheduled job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed scheduled job executions.",
	}, []string{"job"})
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_cycles_advanced_total",
		Help: "Subscriptions rolled over to the next billing cycle.",
	})
	chargesFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_charges_failed_total",
		Help: "Gateway charges declined or errored during rollover.",
	})
	linesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_lines_dropped_total",
		Help: "Staged lines dropped at rollover because the product vanished.",
	})
	reg.MustRegister(duration, success, failure, cycles, chargesFailed, linesDropped)
	return &BillingMetrics{
		duration:      duration,
		success:       success,
		failure:       failure,
		cycles:        cycles,
		chargesFailed: chargesFailed,
		linesDropped:  linesDropped,
	}
}

// ObserveDuration records the duration for the named job.
func (m *BillingMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *BillingMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *BillingMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncCyclesAdvanced counts one successful rollover.
func (m *BillingMetrics) IncCyclesAdvanced() {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.Inc()
}

// IncChargeFailed counts one declined/errored gateway charge.
func (m *BillingMetrics) IncChargeFailed() {
	if m == nil || m.chargesFailed == nil {
		return
	}
	m.chargesFailed.Inc()
}

// AddLinesDropped counts staged lines dropped for vanished products.
func (m *BillingMetrics) AddLinesDropped(n int) {
	if m == nil || m.linesDropped == nil || n <= 0 {
		return
	}
	m.linesDropped.Add(float64(n))
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
