package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	quizSubmissions  *prometheus.CounterVec
	accessEvents     *prometheus.CounterVec
	mailJobs         *prometheus.CounterVec
	reportExports    *prometheus.CounterVec
	progressFetchDur prometheus.Observer

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	quizSubmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_submissions_total",
		Help: "Graded quiz submissions by module kind and outcome",
	}, []string{"kind", "result"})

	accessEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "final_access_events_total",
		Help: "Final assessment access requests, grants and exhaustions",
	}, []string{"event"})

	mailJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_jobs_total",
		Help: "Outbound mail jobs by outcome",
	}, []string{"status"})

	reportExports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_exports_total",
		Help: "Progress reports generated by format",
	}, []string{"format"})

	progressFetch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "progress_fetch_all_seconds",
		Help:    "Duration of cross-student progress reads",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		quizSubmissions, accessEvents, mailJobs, reportExports, progressFetch, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		quizSubmissions:  quizSubmissions,
		accessEvents:     accessEvents,
		mailJobs:         mailJobs,
		reportExports:    reportExports,
		progressFetchDur: progressFetch,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordQuizSubmission counts a graded submission.
func (m *MetricsService) RecordQuizSubmission(final, passed bool) {
	if m == nil {
		return
	}
	kind, result := "module", "failed"
	if final {
		kind = "final"
	}
	if passed {
		result = "passed"
	}
	m.quizSubmissions.WithLabelValues(kind, result).Inc()
}

// RecordAccessEvent counts request, grant and exhausted transitions.
func (m *MetricsService) RecordAccessEvent(event string) {
	if m == nil {
		return
	}
	m.accessEvents.WithLabelValues(event).Inc()
}

// RecordMailJob counts a mail delivery outcome.
func (m *MetricsService) RecordMailJob(status string) {
	if m == nil {
		return
	}
	m.mailJobs.WithLabelValues(status).Inc()
}

// RecordReportExport counts a generated report.
func (m *MetricsService) RecordReportExport(format string) {
	if m == nil {
		return
	}
	m.reportExports.WithLabelValues(format).Inc()
}

// ObserveProgressFetch times a cross-student progress read.
func (m *MetricsService) ObserveProgressFetch(duration time.Duration) {
	if m == nil {
		return
	}
	m.progressFetchDur.Observe(duration.Seconds())
}
