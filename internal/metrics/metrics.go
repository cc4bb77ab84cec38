package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Detection Metrics
	StreamsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_streams_detected_total",
			Help: "Total number of streams accepted into the detection list",
		},
		[]string{"type"},
	)

	StreamsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_streams_rejected_total",
			Help: "Total number of detection candidates rejected",
		},
		[]string{"reason"},
	)

	ManifestParseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_manifest_parse_duration_seconds",
			Help:    "Manifest fetch and parse duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Download Metrics
	DownloadsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_downloads_started_total",
			Help: "Total number of download tasks started",
		},
		[]string{"type"},
	)

	DownloadsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_downloads_completed_total",
			Help: "Total number of download tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	DownloadsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamvault_downloads_in_progress",
			Help: "Number of downloads currently running",
		},
	)

	DownloadsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamvault_downloads_queue_depth",
			Help: "Number of downloads waiting in queue",
		},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_download_duration_seconds",
			Help:    "Download task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"type", "resolution"},
	)

	SegmentsDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_segments_downloaded_total",
			Help: "Total number of media segments fetched",
		},
	)

	SegmentRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_segment_retries_total",
			Help: "Total number of segment fetch retries",
		},
	)

	SegmentBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_segment_bytes_total",
			Help: "Total bytes of segment data fetched",
		},
	)

	// Mux Metrics
	MuxOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_mux_operations_total",
			Help: "Total number of mux operations",
		},
		[]string{"method", "status"},
	)

	MuxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamvault_mux_duration_seconds",
			Help:    "Mux operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordStreamDetected records an accepted detection
func RecordStreamDetected(streamType string) {
	StreamsDetectedTotal.WithLabelValues(streamType).Inc()
}

// RecordStreamRejected records a rejected detection candidate
func RecordStreamRejected(reason string) {
	StreamsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDownloadStarted records a download task start
func RecordDownloadStarted(streamType string) {
	DownloadsStartedTotal.WithLabelValues(streamType).Inc()
	DownloadsInProgress.Inc()
}

// RecordDownloadCompleted records a download reaching a terminal state
func RecordDownloadCompleted(status, streamType, resolution string, duration float64) {
	DownloadsCompletedTotal.WithLabelValues(status).Inc()
	DownloadsInProgress.Dec()
	DownloadDuration.WithLabelValues(streamType, resolution).Observe(duration)
}

// UpdateQueueDepth updates the download queue depth gauge
func UpdateQueueDepth(depth int) {
	DownloadsQueueDepth.Set(float64(depth))
}

// RecordSegmentDownloaded records one fetched segment
func RecordSegmentDownloaded(size int) {
	SegmentsDownloadedTotal.Inc()
	SegmentBytesTotal.Add(float64(size))
}

// RecordSegmentRetry records a segment fetch retry
func RecordSegmentRetry() {
	SegmentRetriesTotal.Inc()
}

// RecordMuxOperation records a mux operation
func RecordMuxOperation(method, status string, duration float64) {
	MuxOperationsTotal.WithLabelValues(method, status).Inc()
	MuxDuration.Observe(duration)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
