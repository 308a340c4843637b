package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the HTTP and access-decision collectors.
type Metrics struct {
	InFlight        prometheus.Gauge
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	GateDecisions   *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Access pipeline decisions by stage, outcome and reason.",
		}, []string{"stage", "outcome", "reason"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Login, refresh and revocation outcomes.",
		}, []string{"action", "outcome", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.InFlight, m.Requests, m.RequestDuration, m.GateDecisions, m.SessionEvents)
	}
	return m
}

// Instrument records request count, latency and in-flight requests keyed by
// the matched route pattern.
func Instrument(m *Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.InFlight.Inc()
			defer m.InFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusForError(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := []string{c.Request().Method, route, strconv.Itoa(status)}
			m.Requests.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
