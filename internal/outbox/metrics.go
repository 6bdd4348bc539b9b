package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes.
const (
	outcomePublished    = "published"
	outcomeDeadLettered = "dead_lettered"
)

var (
	settledEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "outbox",
		Name:      "collected_events_total",
		Help:      "Collected activity and done-task events settled by the dispatcher, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity_collector",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time from claiming a batch of collected-record events to settling it.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"outcome"})

	pendingEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_collector",
		Subsystem: "outbox",
		Name:      "pending_events",
		Help:      "Events committed by sync passes that the dispatcher has not published yet.",
	})
)

func init() {
	prometheus.MustRegister(settledEvents, batchDuration, pendingEvents)
}

func recordSettled(messages []Message, outcome string, seconds float64) {
	for _, msg := range messages {
		settledEvents.WithLabelValues(msg.Topic, msg.EventType, outcome).Inc()
	}
	batchDuration.WithLabelValues(outcome).Observe(seconds)
}

func updatePendingGauge(ctx context.Context, pool *pgxpool.Pool) {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&count); err != nil {
		return
	}
	pendingEvents.Set(float64(count))
}
