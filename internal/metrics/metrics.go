// Package metrics defines the Prometheus collectors for upload processing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "equipstat"

// OutcomeSuccess labels an upload that was stored.
const OutcomeSuccess = "success"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Uploads         *prometheus.CounterVec
	RecordsIngested prometheus.Counter
	UploadDuration  prometheus.Histogram
	Evictions       prometheus.Counter
	FilesSwept      prometheus.Counter
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "CSV uploads by outcome (success or ingestion error kind).",
		}, []string{"outcome"}),
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Equipment records stored from successful uploads.",
		}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from upload receipt to stored dataset.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_evictions_total",
			Help:      "Datasets removed to keep per-user history bounded.",
		}),
		FilesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_files_swept_total",
			Help:      "Stored files deleted because no dataset references them.",
		}),
	}

	m.registry.MustRegister(
		m.Uploads,
		m.RecordsIngested,
		m.UploadDuration,
		m.Evictions,
		m.FilesSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveUpload records one finished upload.
func (m *Metrics) ObserveUpload(outcome string, records int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.RecordsIngested.Add(float64(records))
		m.UploadDuration.Observe(elapsed.Seconds())
	}
}

// ObserveEvictions counts datasets dropped by retention.
func (m *Metrics) ObserveEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
}

// ObserveSwept counts orphaned files removed by the sweeper.
func (m *Metrics) ObserveSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesSwept.Add(float64(n))
}

// Registry exposes the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
