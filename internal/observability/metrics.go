package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

var (
	syncRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of sync passes started, labeled by stream.",
	}, []string{"stream"})

	fetchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "sync",
		Name:      "source_fetches_total",
		Help:      "Connector fetch-and-commit cycles, labeled by source type, stream and outcome.",
	}, []string{"source_type", "stream", "outcome"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity_collector",
		Subsystem: "sync",
		Name:      "source_fetch_duration_seconds",
		Help:      "Time spent in one connector fetch call.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"source_type", "stream"})

	insertedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "persistence",
		Name:      "records_inserted_total",
		Help:      "Canonical records inserted (duplicates excluded).",
	}, []string{"source_type", "stream"})

	watermarkGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activity_collector",
		Subsystem: "persistence",
		Name:      "watermark_timestamp_seconds",
		Help:      "Unix timestamp of each source's stream watermark after its last commit.",
	}, []string{"source_id", "stream"})

	aliasesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "identity",
		Name:      "aliases_upserted_total",
		Help:      "Aliases written by identity sync.",
	}, []string{"source_type"})

	identityFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "identity",
		Name:      "resolution_failures_total",
		Help:      "Sources whose identity resolution failed.",
	}, []string{"source_type"})
)

func init() {
	prometheus.MustRegister(syncRunsCounter, fetchCounter, fetchDuration, insertedCounter, watermarkGauge, aliasesCounter, identityFailures)
}

// RecordSyncRun counts a sync pass.
func RecordSyncRun(stream string) {
	syncRunsCounter.WithLabelValues(stream).Inc()
}

// RecordFetch records the outcome and latency of one connector call.
func RecordFetch(sourceType, stream, outcome string, elapsed time.Duration) {
	fetchCounter.WithLabelValues(sourceType, stream, outcome).Inc()
	if elapsed > 0 {
		fetchDuration.WithLabelValues(sourceType, stream).Observe(elapsed.Seconds())
	}
}

// RecordInserted adds newly inserted rows.
func RecordInserted(sourceType, stream string, n int) {
	if n <= 0 {
		return
	}
	insertedCounter.WithLabelValues(sourceType, stream).Add(float64(n))
}

// RecordWatermark publishes the watermark a source advanced to.
func RecordWatermark(sourceID int64, stream string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	watermarkGauge.WithLabelValues(strconv.FormatInt(sourceID, 10), stream).Set(float64(ts.Unix()))
}

// RecordAliases adds aliases written for a source type.
func RecordAliases(sourceType string, n int) {
	if n <= 0 {
		return
	}
	aliasesCounter.WithLabelValues(sourceType).Add(float64(n))
}

// RecordIdentityFailure counts a failed identity resolution.
func RecordIdentityFailure(sourceType string) {
	identityFailures.WithLabelValues(sourceType).Inc()
}
