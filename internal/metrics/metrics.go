package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the adapter. Decode failures
// on individual logs are recorded here and nowhere else: they are never
// surfaced as errors.
type Metrics struct {
	// Scanner health and liveness.
	LastProcessedBlock *prometheus.GaugeVec
	CursorLag          *prometheus.GaugeVec
	ScanErrors         *prometheus.CounterVec
	ReorgsDetected     *prometheus.CounterVec

	// Ingestion integrity.
	EventsDecoded   *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	PoolsInRegistry *prometheus.GaugeVec

	// Cache effectiveness.
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates and registers the adapter metrics.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LastProcessedBlock: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "adapter_last_processed_block",
			Help: "Last block fully processed by a scanner.",
		}, []string{"network", "scan_type"}),

		CursorLag: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "adapter_cursor_lag_blocks",
			Help: "Distance in blocks between the chain head and a scanner's cursor.",
		}, []string{"network", "scan_type"}),

		ScanErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_scan_errors_total",
			Help: "Scan ticks that failed and will be retried, labeled by error type.",
		}, []string{"network", "scan_type", "type"}),

		ReorgsDetected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_reorgs_detected_total",
			Help: "Chain reorganizations detected per network.",
		}, []string{"network"}),

		EventsDecoded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_events_decoded_total",
			Help: "Pool events decoded successfully, labeled by kind.",
		}, []string{"network", "kind"}),

		DecodeFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_decode_failures_total",
			Help: "Logs skipped because their topic layout could not be decoded.",
		}, []string{"network"}),

		PoolsInRegistry: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "adapter_pools_in_registry",
			Help: "Pools currently tracked in the registry.",
		}, []string{"network"}),

		CacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_cache_hits_total",
			Help: "Response cache hits by endpoint.",
		}, []string{"network", "endpoint"}),

		CacheMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_cache_misses_total",
			Help: "Response cache misses by endpoint.",
		}, []string{"network", "endpoint"}),
	}
}

// NewNop returns metrics registered against a throwaway registry, for tests
// and callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
