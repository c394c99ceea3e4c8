package probeserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytes           *prometheus.CounterVec
	activeStreams   prometheus.Gauge
	rejectedStreams prometheus.Counter
}

// NewMetrics registers the probe server collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbspeed",
			Subsystem: "probe",
			Name:      "requests_total",
			Help:      "Probe requests served, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fbspeed",
			Subsystem: "probe",
			Name:      "request_duration_seconds",
			Help:      "Probe request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbspeed",
			Subsystem: "probe",
			Name:      "bytes_total",
			Help:      "Payload bytes moved, by direction relative to the client.",
		}, []string{"direction"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fbspeed",
			Subsystem: "probe",
			Name:      "active_streams",
			Help:      "Download and upload streams currently admitted.",
		}),
		rejectedStreams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fbspeed",
			Subsystem: "probe",
			Name:      "rejected_streams_total",
			Help:      "Streams refused because the global stream limit was reached.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
