package outbox

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/events"
)

func TestRecordSettledLabelsByStreamAndOutcome(t *testing.T) {
	activities := settledEvents.WithLabelValues("work_activities", events.TypeActivityCollected, outcomePublished)
	tasks := settledEvents.WithLabelValues("work_done_tasks", events.TypeDoneTaskCollected, outcomePublished)
	beforeActivities := testutil.ToFloat64(activities)
	beforeTasks := testutil.ToFloat64(tasks)
	beforeBatches := histogramSampleCount(t, outcomePublished)

	recordSettled([]Message{
		{Topic: "work_activities", EventType: events.TypeActivityCollected},
		{Topic: "work_activities", EventType: events.TypeActivityCollected},
		{Topic: "work_done_tasks", EventType: events.TypeDoneTaskCollected},
	}, outcomePublished, 0.2)

	require.InDelta(t, beforeActivities+2, testutil.ToFloat64(activities), 0.0001)
	require.InDelta(t, beforeTasks+1, testutil.ToFloat64(tasks), 0.0001)
	require.Equal(t, beforeBatches+1, histogramSampleCount(t, outcomePublished))
}

func TestRecordDLQOutcomeLabelsByEventType(t *testing.T) {
	requeued := dlqEntries.WithLabelValues(events.TypeDoneTaskCollected, dlqRequeued)
	quarantined := dlqEntries.WithLabelValues(events.TypeDoneTaskCollected, dlqQuarantined)
	beforeRequeued := testutil.ToFloat64(requeued)
	beforeQuarantined := testutil.ToFloat64(quarantined)

	recordDLQOutcome(dlqEntry{EventType: events.TypeDoneTaskCollected}, dlqRequeued)

	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(requeued), 0.0001)
	require.InDelta(t, beforeQuarantined, testutil.ToFloat64(quarantined), 0.0001)
}

func histogramSampleCount(t *testing.T, outcome string) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	observer, err := batchDuration.GetMetricWithLabelValues(outcome)
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Histogram).Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}
