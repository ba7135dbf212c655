package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcleaner",
			Name:      "pages_processed_total",
			Help:      "Pages processed by stream (regen, layout) and result (success, fallback, empty)",
		},
		[]string{"stream", "result"},
	)

	remoteReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcleaner",
			Name:      "remote_requests_total",
			Help:      "Remote service requests by service (imagegen, merge, fetch) and result",
		},
		[]string{"service", "result"},
	)

	remoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfcleaner",
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of remote service requests by service",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcleaner",
			Name:      "retries_total",
			Help:      "Retries by stream (regen, merge)",
		},
		[]string{"stream"},
	)

	stageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcleaner",
			Name:      "stage_transitions_total",
			Help:      "Pipeline stage transitions by stage ordinal",
		},
		[]string{"stage"},
	)
)

// Init registers collectors. Safe to call once per process.
func Init() {
	prometheus.MustRegister(pagesProcessed, remoteReqs, remoteLatency, retriesTotal, stageTransitions)
}

// Handler returns the http.Handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts the metrics listener on addr when non-empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

func IncPage(stream, result string) { pagesProcessed.WithLabelValues(stream, result).Inc() }

func ObserveRemote(service, result string, dur time.Duration) {
	remoteReqs.WithLabelValues(service, result).Inc()
	remoteLatency.WithLabelValues(service).Observe(dur.Seconds())
}

func IncRetry(stream string) { retriesTotal.WithLabelValues(stream).Inc() }

func IncStage(stage string) { stageTransitions.WithLabelValues(stage).Inc() }
