package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	droppedDeliveries prometheus.Counter
	inflightWorkers   prometheus.Gauge
}

func init() {
	metrics.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callme",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "requests routed, by method and response status",
	}, []string{"method", "status"})
	metrics.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "callme",
		Subsystem: "server",
		Name:      "request_duration_seconds",
		Help:      "handler execution time including the middleware chain",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	metrics.droppedDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callme",
		Subsystem: "server",
		Name:      "dropped_deliveries_total",
		Help:      "deliveries that did not decode into a request and were dropped",
	})
	metrics.inflightWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "callme",
		Subsystem: "server",
		Name:      "inflight_workers",
		Help:      "request workers currently executing (concurrent mode)",
	})
}

// RegisterMetrics exposes the server metrics on the given registerer. The
// metrics are collected either way; registration only makes them visible.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(metrics.requestsTotal)
	r.MustRegister(metrics.requestDuration)
	r.MustRegister(metrics.droppedDeliveries)
	r.MustRegister(metrics.inflightWorkers)
}
