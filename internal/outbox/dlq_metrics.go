package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ entry outcomes.
const (
	dlqRequeued    = "requeued"
	dlqRescheduled = "rescheduled"
	dlqQuarantined = "quarantined"
)

var (
	dlqEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "Dead-lettered collected-record events handled by the DLQ manager, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activity_collector",
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Entries in outbox_dlq, split into waiting for replay and quarantined.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(dlqEntries, dlqBacklog)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqEntries.WithLabelValues(entry.EventType, outcome).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var waiting, quarantined int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE quarantined_at IS NULL), COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
           FROM outbox_dlq`,
	).Scan(&waiting, &quarantined)
	if err != nil {
		return
	}
	dlqBacklog.WithLabelValues("waiting").Set(float64(waiting))
	dlqBacklog.WithLabelValues("quarantined").Set(float64(quarantined))
}
