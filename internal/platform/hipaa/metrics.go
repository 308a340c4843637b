package hipaa

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the audit recorder's Prometheus collectors.
type Metrics struct {
	QueueDepth      prometheus.Gauge
	SyncFallbacks   prometheus.Counter
	DeferredRetries prometheus.Counter
	WriteFailures   prometheus.Counter
	Recorded        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Audit entries waiting for a writer.",
		}),
		SyncFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_sync_fallbacks_total",
			Help: "Audit entries written on the caller goroutine because the queue was full.",
		}),
		DeferredRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_deferred_retries_total",
			Help: "Synchronous audit writes that failed once and were handed to a background retry.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit entries that could not be persisted after all retries.",
		}),
		Recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Audit entries recorded by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.QueueDepth, m.SyncFallbacks, m.DeferredRetries, m.WriteFailures, m.Recorded)
	}
	return m
}
