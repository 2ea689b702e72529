/*
Package metrics exposes Prometheus collectors for the fee engine.

PURPOSE:
  Recorder implements billing.ReportSink: every generation report updates
  run, line and amount counters. The API instruments its routes through
  ObserveHTTP. Handler serves the registry on /metrics.

COLLECTORS:
  fee_generation_runs_total{granularity}
  fee_generation_lines_total{granularity,action}
  fee_generation_amount_total{granularity}
  fee_generation_duration_seconds{granularity}
  fee_generation_last_run_timestamp_seconds{granularity}
  fee_http_requests_total{method,route,status}
  fee_http_request_duration_seconds{method,route}
*/
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/fee-engine/billing"
)

const namespace = "fee"

type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	lines    *prometheus.CounterVec
	amount   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  *prometheus.GaugeVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ billing.ReportSink = (*Recorder)(nil)

// NewRecorder registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_runs_total",
			Help:      "Completed payment generation batches.",
		}, []string{"granularity"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_lines_total",
			Help:      "Generated payment lines by outcome.",
		}, []string{"granularity", "action"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_amount_total",
			Help:      "Sum of created and overwritten payment amounts.",
		}, []string{"granularity"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generation batches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"granularity"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_last_run_timestamp_seconds",
			Help:      "Unix time the last batch finished.",
		}, []string{"granularity"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.registry.MustRegister(
		r.runs, r.lines, r.amount, r.duration, r.lastRun,
		r.requests, r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Record implements billing.ReportSink.
func (r *Recorder) Record(_ context.Context, report *billing.GenerationReport) error {
	g := string(report.Period.Granularity)
	r.runs.WithLabelValues(g).Inc()
	r.lines.WithLabelValues(g, string(billing.ActionCreated)).Add(float64(report.Created - report.Overwritten))
	r.lines.WithLabelValues(g, string(billing.ActionUpdated)).Add(float64(report.Overwritten))
	r.lines.WithLabelValues(g, string(billing.ActionSkipped)).Add(float64(report.Skipped))
	r.lines.WithLabelValues(g, string(billing.ActionFailed)).Add(float64(report.Errors))
	r.amount.WithLabelValues(g).Add(report.TotalAmount.InexactFloat64())
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		r.duration.WithLabelValues(g).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
		r.lastRun.WithLabelValues(g).Set(float64(report.FinishedAt.Unix()))
	}
	return nil
}

// ObserveHTTP records one served request. route is the matched pattern,
// not the raw path.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
