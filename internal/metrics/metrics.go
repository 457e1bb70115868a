// Package metrics exposes Prometheus instrumentation for candidate window computations.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	computationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetslot_computations_total",
		Help: "Candidate window computations by outcome",
	}, []string{"outcome"}) // outcome=cached|computed|degraded|failed|conflict

	freshnessVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetslot_freshness_verdicts_total",
		Help: "Freshness verdicts by reason (fresh for cache hits)",
	}, []string{"reason"})

	busyFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetslot_busy_fetch_failures_total",
		Help: "Total number of per-participant busy data fetch failures",
	})

	mergeWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetslot_merge_warnings_total",
		Help: "Participants skipped during merge because of malformed intervals",
	})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meetslot_compute_duration_seconds",
		Help:    "End-to-end duration of candidate window computations",
		Buckets: prometheus.DefBuckets,
	})

	candidateWindows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meetslot_candidate_windows",
		Help: "Number of candidate windows in the last result per event",
	}, []string{"event"})
)

// RecordOutcome counts a finished computation.
func RecordOutcome(outcome string, took time.Duration) {
	computationsTotal.WithLabelValues(outcome).Inc()
	computeDuration.Observe(took.Seconds())
}

// RecordVerdict counts a freshness verdict. An empty reason is recorded as "fresh".
func RecordVerdict(reason string) {
	if reason == "" {
		reason = "fresh"
	}
	freshnessVerdicts.WithLabelValues(reason).Inc()
}

// RecordFetchFailures adds n failed participant fetches.
func RecordFetchFailures(n int) {
	busyFetchFailures.Add(float64(n))
}

// RecordMergeWarnings adds n skipped participants.
func RecordMergeWarnings(n int) {
	mergeWarnings.Add(float64(n))
}

// SetCandidateWindows records how many windows the last result for event held.
func SetCandidateWindows(event string, n int) {
	candidateWindows.WithLabelValues(event).Set(float64(n))
}

// Handler serves /metrics for Prometheus and a plain /healthz liveness check.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
