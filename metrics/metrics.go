// Package metrics exposes Prometheus metrics for the gateway and serves them
// on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/nexus-storage-gateway/common"
)

var (
	// GatewayOperations counts storage operations by backend and result.
	GatewayOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "gateway_operations_total",
			Help:      "Storage gateway operations by operation, backend and result",
		},
		[]string{"operation", "backend", "result"},
	)

	// GatewayOperationDuration observes backend latency.
	GatewayOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: common.PackageName,
			Name:      "gateway_operation_duration_seconds",
			Help:      "Storage gateway operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// GatewayMode is 1 for the currently active mode and 0 otherwise.
	GatewayMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.PackageName,
			Name:      "gateway_mode",
			Help:      "Active storage gateway mode",
		},
		[]string{"mode"},
	)

	// EmbeddedPeers tracks the live peer count of the embedded node.
	EmbeddedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.PackageName,
			Name:      "embedded_peers",
			Help:      "Peers connected to the embedded node",
		},
	)

	// RegistryFiles is the current catalogue size.
	RegistryFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.PackageName,
			Name:      "registry_files",
			Help:      "Number of records in the file registry",
		},
	)

	// RegistryCorruptLoads counts catalogues discarded as unreadable.
	RegistryCorruptLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "registry_corrupt_loads_total",
			Help:      "Persisted catalogues that failed to decode and were replaced by an empty catalogue",
		},
	)

	// DNSLinkCacheHits counts DNSLink lookups served from cache.
	DNSLinkCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "dnslink_cache_hits_total",
			Help:      "DNSLink lookups served from the resolver cache",
		},
	)

	// DNSLinkCacheMisses counts DNSLink lookups that queried DNS.
	DNSLinkCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "dnslink_cache_misses_total",
			Help:      "DNSLink lookups that required a DNS query",
		},
	)

	// UploadedBytes counts bytes accepted by the upload pipeline.
	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes ingested through the upload pipeline",
		},
	)

	// UploadResults counts per-file upload outcomes.
	UploadResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "upload_results_total",
			Help:      "Per-file upload outcomes",
		},
		[]string{"result"},
	)
)

// ObserveOperation records the outcome and latency of one backend call.
func ObserveOperation(operation, backend string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayOperations.WithLabelValues(operation, backend, result).Inc()
	GatewayOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// SetMode flips the mode gauge so that exactly one mode reports 1.
func SetMode(active string, all ...string) {
	for _, m := range all {
		v := 0.0
		if m == active {
			v = 1
		}
		GatewayMode.WithLabelValues(m).Set(v)
	}
}

// MetricsServer serves /metrics on its own address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
