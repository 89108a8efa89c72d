package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

const (
	TransportHTTP     = "http"
	TransportRealtime = "realtime"
	TransportSocket   = "socket"
)

// Metrics counts generated route calls per transport. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynamicapi",
				Subsystem: "route",
				Name:      "requests_total",
				Help:      "Total number of generated route calls.",
			},
			[]string{"transport", "route", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dynamicapi",
				Subsystem: "route",
				Name:      "duration_seconds",
				Help:      "Duration of generated route calls.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"transport", "route"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Observe(transport, route, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(transport, route, outcome).Inc()
	m.duration.WithLabelValues(transport, route).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels a call result: "ok", the client error kind, or "error".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := domain.KindOf(err); ok {
		return strings.ToLower(string(kind))
	}
	return "error"
}
