package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	analyticsRequests    *prometheus.CounterVec
	analyticsFetchErrors *prometheus.CounterVec
	analyticsDuration    prometheus.Histogram

	eventsPublished     *prometheus.CounterVec
	eventsProcessed     *prometheus.CounterVec
	ingestBatchSize     prometheus.Histogram
	ingestBatchDuration prometheus.Histogram
	ingestQueueDepth    prometheus.Gauge
	ingestLag           prometheus.Histogram
}

// NewPrometheus registers the application metrics plus the Go and process
// collectors on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		analyticsRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardfolio_analytics_requests_total",
				Help: "Total number of profile analytics requests by outcome",
			},
			[]string{"status"},
		),
		analyticsFetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardfolio_analytics_fetch_errors_total",
				Help: "Per-metric fetches that failed and were degraded to empty",
			},
			[]string{"fetch"},
		),
		analyticsDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardfolio_analytics_duration_seconds",
				Help:    "Duration of a full analytics aggregation",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardfolio_events_published_total",
				Help: "Tracking events published to the ingest stream",
			},
			[]string{"kind", "status"},
		),
		eventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardfolio_events_processed_total",
				Help: "Tracking events handled by the ingest worker",
			},
			[]string{"status"},
		),
		ingestBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardfolio_ingest_batch_size",
				Help:    "Number of events per persisted batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		ingestBatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardfolio_ingest_batch_duration_seconds",
				Help:    "Time to persist a batch of events",
				Buckets: prometheus.DefBuckets,
			},
		),
		ingestQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardfolio_ingest_queue_depth",
				Help: "Pending plus unread messages in the ingest stream",
			},
		),
		ingestLag: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardfolio_ingest_lag_seconds",
				Help:    "Delay between an event occurring and being persisted",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncAnalyticsRequest(status string) {
	p.analyticsRequests.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncAnalyticsFetchError(fetch string) {
	p.analyticsFetchErrors.WithLabelValues(fetch).Inc()
}

func (p *PrometheusRecorder) ObserveAnalyticsDuration(duration time.Duration) {
	p.analyticsDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncEventPublished(kind, status string) {
	p.eventsPublished.WithLabelValues(kind, status).Inc()
}

func (p *PrometheusRecorder) IncEventProcessed(status string) {
	p.eventsProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveIngestBatchSize(size int) {
	p.ingestBatchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveIngestBatchDuration(duration time.Duration) {
	p.ingestBatchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetIngestQueueDepth(depth int64) {
	p.ingestQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveIngestLag(lag time.Duration) {
	p.ingestLag.Observe(lag.Seconds())
}
