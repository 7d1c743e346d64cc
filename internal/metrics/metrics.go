// Package metrics exposes Prometheus metrics for the object store.
package metrics

import (
	"sync"

	"github.com/garder500/holystore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds all Prometheus metrics of the store.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec // holystore_operations_total{operation}
	ErrorsTotal     prometheus.Counter     // holystore_errors_total

	BytesWritten prometheus.Counter // holystore_bytes_written_total
	BytesServed  prometheus.Counter // holystore_bytes_served_total

	Objects   prometheus.Gauge // holystore_objects
	LastIndex prometheus.Gauge // holystore_last_index

	RequestDuration *prometheus.HistogramVec // holystore_http_request_duration_seconds{route,method,status}
}

// Init registers the metrics with registry, or the default registerer when
// nil. Metrics are only registered once; later calls return the same instance.
func Init(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics(registry)
	})
	return metricsInstance
}

func newMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "holystore_operations_total",
			Help: "Completed store operations by kind",
		}, []string{"operation"}),

		ErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "holystore_errors_total",
			Help: "Errors reported by the store",
		}),

		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "holystore_bytes_written_total",
			Help: "Payload bytes written by inserts and updates",
		}),

		BytesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "holystore_bytes_served_total",
			Help: "Payload bytes delivered by reads, copies, pipes and pushes",
		}),

		Objects: f.NewGauge(prometheus.GaugeOpts{
			Name: "holystore_objects",
			Help: "Number of live objects",
		}),

		LastIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "holystore_last_index",
			Help: "Highest id ever assigned",
		}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "holystore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// Observe implements storage.Observer.
func (m *Metrics) Observe(e storage.Event) {
	if e.Kind == storage.EventError {
		m.ErrorsTotal.Inc()
		return
	}
	m.OperationsTotal.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case storage.EventInsert, storage.EventUpdate:
		m.BytesWritten.Add(float64(e.Bytes))
		m.SetCounters(e.Counters)
	case storage.EventRemove, storage.EventReindex:
		m.SetCounters(e.Counters)
	case storage.EventRead, storage.EventCopy, storage.EventPipe, storage.EventSend:
		m.BytesServed.Add(float64(e.Bytes))
	}
}

// SetCounters updates the gauges from the store counters.
func (m *Metrics) SetCounters(c storage.Counters) {
	m.Objects.Set(float64(c.Count))
	m.LastIndex.Set(float64(c.Index))
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(route, method, status string, durationSeconds float64) {
	m.RequestDuration.WithLabelValues(route, method, status).Observe(durationSeconds)
}
