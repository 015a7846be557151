package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	AnalyticsRequests      map[string]uint64
	AnalyticsFetchErrors   map[string]uint64
	AnalyticsDurationCount uint64
	EventsPublished        map[string]uint64 // key: kind + ":" + status
	EventsProcessed        map[string]uint64
	IngestBatches          uint64
	IngestBatchEvents      uint64
	IngestQueueDepth       int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		snap: Snapshot{
			AnalyticsRequests:    make(map[string]uint64),
			AnalyticsFetchErrors: make(map[string]uint64),
			EventsPublished:      make(map[string]uint64),
			EventsProcessed:      make(map[string]uint64),
		},
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		AnalyticsRequests:      copyCounts(m.snap.AnalyticsRequests),
		AnalyticsFetchErrors:   copyCounts(m.snap.AnalyticsFetchErrors),
		AnalyticsDurationCount: m.snap.AnalyticsDurationCount,
		EventsPublished:        copyCounts(m.snap.EventsPublished),
		EventsProcessed:        copyCounts(m.snap.EventsProcessed),
		IngestBatches:          m.snap.IngestBatches,
		IngestBatchEvents:      m.snap.IngestBatchEvents,
		IngestQueueDepth:       m.snap.IngestQueueDepth,
	}
}

// IncAnalyticsRequest counts an analytics request by outcome.
func (m *InMemoryRecorder) IncAnalyticsRequest(status string) {
	m.mu.Lock()
	m.snap.AnalyticsRequests[status]++
	m.mu.Unlock()
}

// IncAnalyticsFetchError counts a degraded fetch.
func (m *InMemoryRecorder) IncAnalyticsFetchError(fetch string) {
	m.mu.Lock()
	m.snap.AnalyticsFetchErrors[fetch]++
	m.mu.Unlock()
}

// ObserveAnalyticsDuration records an aggregation run.
func (m *InMemoryRecorder) ObserveAnalyticsDuration(duration time.Duration) {
	m.mu.Lock()
	m.snap.AnalyticsDurationCount++
	m.mu.Unlock()
}

// IncEventPublished counts a publish attempt.
func (m *InMemoryRecorder) IncEventPublished(kind, status string) {
	m.mu.Lock()
	m.snap.EventsPublished[kind+":"+status]++
	m.mu.Unlock()
}

// IncEventProcessed counts a processed event.
func (m *InMemoryRecorder) IncEventProcessed(status string) {
	m.mu.Lock()
	m.snap.EventsProcessed[status]++
	m.mu.Unlock()
}

// ObserveIngestBatchSize records a persisted batch.
func (m *InMemoryRecorder) ObserveIngestBatchSize(size int) {
	m.mu.Lock()
	m.snap.IngestBatches++
	m.snap.IngestBatchEvents += uint64(size)
	m.mu.Unlock()
}

// ObserveIngestBatchDuration is not tracked in memory.
func (m *InMemoryRecorder) ObserveIngestBatchDuration(duration time.Duration) {}

// SetIngestQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetIngestQueueDepth(depth int64) {
	m.mu.Lock()
	m.snap.IngestQueueDepth = depth
	m.mu.Unlock()
}

// ObserveIngestLag is not tracked in memory.
func (m *InMemoryRecorder) ObserveIngestLag(lag time.Duration) {}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
