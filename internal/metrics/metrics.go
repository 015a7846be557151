// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Analytics query metrics
	IncAnalyticsRequest(status string) // status: "ok", "bad_request", "not_found", "error"
	IncAnalyticsFetchError(fetch string)
	ObserveAnalyticsDuration(duration time.Duration)

	// Ingestion pipeline metrics
	IncEventPublished(kind, status string) // kind: "view" or "social_click"; status: "success" or "failed"
	IncEventProcessed(status string)       // status: "success", "failed", "dead_lettered"
	ObserveIngestBatchSize(size int)
	ObserveIngestBatchDuration(duration time.Duration)
	SetIngestQueueDepth(depth int64)
	ObserveIngestLag(lag time.Duration)
}
