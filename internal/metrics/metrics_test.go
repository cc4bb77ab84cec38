package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/streams", "200", 0.123)

	// Verify counter incremented
	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/streams", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordStreamDetected(t *testing.T) {
	StreamsDetectedTotal.Reset()

	RecordStreamDetected("hls")
	RecordStreamDetected("dash")
	RecordStreamDetected("hls")

	hls := testutil.ToFloat64(StreamsDetectedTotal.WithLabelValues("hls"))
	if hls != 2.0 {
		t.Errorf("Expected hls counter to be 2.0, got %f", hls)
	}

	dash := testutil.ToFloat64(StreamsDetectedTotal.WithLabelValues("dash"))
	if dash != 1.0 {
		t.Errorf("Expected dash counter to be 1.0, got %f", dash)
	}
}

func TestRecordStreamRejected(t *testing.T) {
	StreamsRejectedTotal.Reset()

	RecordStreamRejected("drm_protected")
	RecordStreamRejected("live")
	RecordStreamRejected("drm_protected")

	drm := testutil.ToFloat64(StreamsRejectedTotal.WithLabelValues("drm_protected"))
	if drm != 2.0 {
		t.Errorf("Expected drm counter to be 2.0, got %f", drm)
	}

	live := testutil.ToFloat64(StreamsRejectedTotal.WithLabelValues("live"))
	if live != 1.0 {
		t.Errorf("Expected live counter to be 1.0, got %f", live)
	}
}

func TestRecordDownloadLifecycle(t *testing.T) {
	DownloadsStartedTotal.Reset()
	DownloadsCompletedTotal.Reset()

	RecordDownloadStarted("hls")
	RecordDownloadCompleted("completed", "hls", "1080p", 120.5)
	RecordDownloadStarted("dash")
	RecordDownloadCompleted("failed", "dash", "720p", 30.2)

	completed := testutil.ToFloat64(DownloadsCompletedTotal.WithLabelValues("completed"))
	if completed != 1.0 {
		t.Errorf("Expected completed counter to be 1.0, got %f", completed)
	}

	failed := testutil.ToFloat64(DownloadsCompletedTotal.WithLabelValues("failed"))
	if failed != 1.0 {
		t.Errorf("Expected failed counter to be 1.0, got %f", failed)
	}

	inProgress := testutil.ToFloat64(DownloadsInProgress)
	if inProgress != 0.0 {
		t.Errorf("Expected downloads in progress to be 0.0, got %f", inProgress)
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth(7)

	depth := testutil.ToFloat64(DownloadsQueueDepth)
	if depth != 7.0 {
		t.Errorf("Expected queue depth to be 7.0, got %f", depth)
	}
}

func TestRecordSegmentDownloaded(t *testing.T) {
	RecordSegmentDownloaded(1048576)
	RecordSegmentDownloaded(524288)
	RecordSegmentRetry()

	segments := testutil.ToFloat64(SegmentsDownloadedTotal)
	if segments < 2.0 {
		t.Errorf("Expected at least 2 segments recorded, got %f", segments)
	}

	retries := testutil.ToFloat64(SegmentRetriesTotal)
	if retries < 1.0 {
		t.Errorf("Expected at least 1 retry recorded, got %f", retries)
	}
}

func TestRecordMuxOperation(t *testing.T) {
	MuxOperationsTotal.Reset()

	RecordMuxOperation("ffmpeg", "success", 4.2)
	RecordMuxOperation("concat", "success", 0.8)

	ffmpeg := testutil.ToFloat64(MuxOperationsTotal.WithLabelValues("ffmpeg", "success"))
	if ffmpeg != 1.0 {
		t.Errorf("Expected ffmpeg mux counter to be 1.0, got %f", ffmpeg)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("upload", "success", 1.234, 1048576)

	counter := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("upload", "success"))
	if counter != 1.0 {
		t.Errorf("Expected storage operation counter to be 1.0, got %f", counter)
	}

	bytes := testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("upload"))
	if bytes != 1048576.0 {
		t.Errorf("Expected bytes transferred to be 1048576.0, got %f", bytes)
	}
}

func TestRecordDatabaseOperation(t *testing.T) {
	DatabaseOperationsTotal.Reset()

	RecordDatabaseOperation("select", "success", 0.05)
	RecordDatabaseOperation("insert", "error", 0.02)

	success := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("select", "success"))
	if success != 1.0 {
		t.Errorf("Expected select success counter to be 1.0, got %f", success)
	}

	errCount := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("insert", "error"))
	if errCount != 1.0 {
		t.Errorf("Expected insert error counter to be 1.0, got %f", errCount)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("progress", true)
	RecordCacheAccess("progress", true)
	RecordCacheAccess("progress", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("progress"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("progress"))
	if misses != 1.0 {
		t.Errorf("Expected cache misses to be 1.0, got %f", misses)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("api", "validation")
	RecordError("downloader", "segment")
	RecordError("api", "validation")

	apiErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("api", "validation"))
	if apiErrors != 2.0 {
		t.Errorf("Expected API validation errors to be 2.0, got %f", apiErrors)
	}

	downloadErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("downloader", "segment"))
	if downloadErrors != 1.0 {
		t.Errorf("Expected downloader segment errors to be 1.0, got %f", downloadErrors)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/streams", "200", 0.123)
	}
}
