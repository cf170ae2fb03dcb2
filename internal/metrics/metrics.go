// Package metrics exposes Prometheus collectors for pastes, uploads and the
// HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nshare"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pastesCreated    *prometheus.CounterVec
	pasteReads       prometheus.Counter
	pasteUpdates     prometheus.Counter
	codeCollisions   prometheus.Counter
	uploadsStarted   prometheus.Counter
	uploadChunks     prometheus.Counter
	uploadsCompleted prometheus.Counter
	swept            *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pastesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pastes_created_total",
			Help:      "Pastes created, by kind.",
		}, []string{"kind"}),
		pasteReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paste_reads_total",
			Help:      "Successful paste retrievals.",
		}),
		pasteUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paste_updates_total",
			Help:      "Successful paste content edits.",
		}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Inserts that lost a race for a code and were retried.",
		}),
		uploadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_started_total",
			Help:      "Chunked upload sessions started.",
		}),
		uploadChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_chunks_total",
			Help:      "Chunks accepted, including resubmissions.",
		}),
		uploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_completed_total",
			Help:      "Chunked uploads converted into pastes.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_entries_total",
			Help:      "Expired entries removed by sweeps, by collection.",
		}, []string{"collection"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pastesCreated,
		m.pasteReads,
		m.pasteUpdates,
		m.codeCollisions,
		m.uploadsStarted,
		m.uploadChunks,
		m.uploadsCompleted,
		m.swept,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PasteCreated(kind string) {
	if m == nil {
		return
	}
	m.pastesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) PasteRead() {
	if m == nil {
		return
	}
	m.pasteReads.Inc()
}

func (m *Metrics) PasteUpdated() {
	if m == nil {
		return
	}
	m.pasteUpdates.Inc()
}

func (m *Metrics) CodeCollision() {
	if m == nil {
		return
	}
	m.codeCollisions.Inc()
}

func (m *Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.uploadsStarted.Inc()
}

func (m *Metrics) ChunkReceived() {
	if m == nil {
		return
	}
	m.uploadChunks.Inc()
}

func (m *Metrics) UploadCompleted() {
	if m == nil {
		return
	}
	m.uploadsCompleted.Inc()
}

// Swept matches expiry.Sweeper's OnSwept hook
func (m *Metrics) Swept(collection string, removed int) {
	if m == nil {
		return
	}
	m.swept.WithLabelValues(collection).Add(float64(removed))
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
