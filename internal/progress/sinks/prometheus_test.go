package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/layered-crawler/internal/progress"
)

func TestPrometheusSinkRecordsRunMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := [16]byte(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageLayerStart, Layer: 0, Count: 1},
		{RunID: runID, TS: now, Stage: progress.StageLayerDone, Layer: 0, Count: 5},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsInFlight))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageLayerStart, Layer: 1, Count: 5},
		{RunID: runID, TS: now, Stage: progress.StageLayerDone, Layer: 1},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: 2 * time.Second},
	}))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsInFlight))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(progress.StageLayerStart))))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "crawler_run_duration_seconds"))

	count, err := testutil.GatherAndCount(reg, "crawler_run_layers")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPrometheusSinkIgnoresUnknownRunCompletion(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: [16]byte(uuid.New()), TS: time.Now(), Stage: progress.StageRunError},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsInFlight))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
