// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hnsummaries"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Skip reasons reported by the pipeline.
const (
	SkipAlreadyStored  = "already_stored"
	SkipNotRelevant    = "not_relevant"
	SkipNoContent      = "no_content"
	SkipSummaryFailed  = "summary_failed"
	SkipCommentsFailed = "comments_summary_failed"
)

// Metrics owns a private registry so tests and multiple instances never collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	storedTotal     prometheus.Counter
	skippedTotal    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	lastSuccessTime prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of ingestion runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Duration of ingestion runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		storedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "articles_stored_total",
				Help:      "Total number of articles stored",
			},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_skipped_total",
				Help:      "Total number of candidates skipped by reason",
			},
			[]string{"reason"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of read API requests",
			},
			[]string{"route", "status"},
		),
		lastSuccessTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful ingestion run",
			},
		),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.storedTotal,
		m.skippedTotal,
		m.httpRequests,
		m.lastSuccessTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRun records the outcome of one ingestion run.
func (m *Metrics) RecordRun(err error, started time.Time, finished time.Time) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(finished.Sub(started).Seconds())
	if err == nil {
		m.lastSuccessTime.Set(float64(finished.Unix()))
	}
}

func (m *Metrics) RecordStored() {
	if m == nil {
		return
	}
	m.storedTotal.Inc()
}

func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.skippedTotal.WithLabelValues(reason).Inc()
}

// RecordRequest counts a read API request.
func (m *Metrics) RecordRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
