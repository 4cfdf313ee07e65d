// Package metrics defines custom Prometheus metrics for mediaoffload.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for object and response size histograms (bytes).
var sizeBuckets = []float64{1024, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaoffload_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaoffload_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaoffload_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Offload metrics.
var (
	// StoreOperationsTotal counts object store round trips by operation and outcome.
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaoffload_store_operations_total",
			Help: "Object store operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// SyncEventsTotal counts lifecycle hook invocations by event and outcome.
	SyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaoffload_sync_events_total",
			Help: "Upload and delete hook events by outcome",
		},
		[]string{"event", "outcome"},
	)

	// RetrievalsTotal counts retrieval requests by outcome.
	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaoffload_retrievals_total",
			Help: "Retrieval requests for locally missing files by outcome",
		},
		[]string{"outcome"},
	)

	// UploadedBytes observes the size of objects sent to the store.
	UploadedBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaoffload_uploaded_object_size_bytes",
			Help:    "Size of objects uploaded to the store",
			Buckets: sizeBuckets,
		},
	)

	// StoreConnected is 1 while a validated store client is active.
	StoreConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaoffload_store_connected",
			Help: "Whether a validated object store client is active",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			StoreOperationsTotal,
			SyncEventsTotal,
			RetrievalsTotal,
			UploadedBytes,
			StoreConnected,
		)
		// Pre-create the common series so they appear in /metrics output
		// before the first event.
		SyncEventsTotal.WithLabelValues("upload", "ok")
		RetrievalsTotal.WithLabelValues("served")
	})
}

// NormalizePath maps request paths to low-cardinality label values. Any
// path that is not a known service route is a media retrieval.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json", "/openapi.yaml":
		return path
	case "/hooks/upload", "/hooks/delete":
		return path
	case "/settings", "/settings/schema":
		return path
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/openapi") {
		return "/openapi"
	}
	return "/{media}"
}
