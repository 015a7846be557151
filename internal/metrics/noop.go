package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncAnalyticsRequest is a no-op.
func (n *NoopRecorder) IncAnalyticsRequest(status string) {}

// IncAnalyticsFetchError is a no-op.
func (n *NoopRecorder) IncAnalyticsFetchError(fetch string) {}

// ObserveAnalyticsDuration is a no-op.
func (n *NoopRecorder) ObserveAnalyticsDuration(duration time.Duration) {}

// IncEventPublished is a no-op.
func (n *NoopRecorder) IncEventPublished(kind, status string) {}

// IncEventProcessed is a no-op.
func (n *NoopRecorder) IncEventProcessed(status string) {}

// ObserveIngestBatchSize is a no-op.
func (n *NoopRecorder) ObserveIngestBatchSize(size int) {}

// ObserveIngestBatchDuration is a no-op.
func (n *NoopRecorder) ObserveIngestBatchDuration(duration time.Duration) {}

// SetIngestQueueDepth is a no-op.
func (n *NoopRecorder) SetIngestQueueDepth(depth int64) {}

// ObserveIngestLag is a no-op.
func (n *NoopRecorder) ObserveIngestLag(lag time.Duration) {}
