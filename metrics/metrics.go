// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_http_requests_total",
	Help: "HTTP requests handled, by route, method and status.",
}, []string{"route", "method", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "streamgate_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds, until the handler returns.",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "method"})

var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "streamgate_active_streams",
	Help: "Upstream requests currently being relayed.",
})

var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_upstream_requests_total",
	Help: "Upstream fetches by outcome.",
}, []string{"outcome"})

var UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "streamgate_upstream_latency_seconds",
	Help:    "Time to upstream response headers, by egress host.",
	Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"host"})

var CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_cache_results_total",
	Help: "Cache lookups by class and result (hit, stale, miss).",
}, []string{"class", "result"})

var CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_cache_errors_total",
	Help: "Cache store failures that degraded to a miss.",
}, []string{"op"})

var IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_catalog_ingest_total",
	Help: "Catalog ingestion runs by source type and result.",
}, []string{"type", "result"})

var IngestEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "streamgate_catalog_entries",
	Help: "Entries produced by the last ingestion of a catalog, by entry type.",
}, []string{"catalog", "type"})

var KeyValidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_key_validations_total",
	Help: "Access key validations by result.",
}, []string{"result"})

var EgressScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "streamgate_egress_score",
	Help: "Last computed selection score per egress host.",
}, []string{"host"})

func Handler() http.Handler {
	return promhttp.Handler()
}
