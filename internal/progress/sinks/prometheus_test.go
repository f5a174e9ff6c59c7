package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/license-resolver/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StagePassStart},
		{RunID: "r1", TS: now, Stage: progress.StagePassStart},
		{
			RunID:  "r1",
			TS:     now.Add(time.Second),
			Stage:  progress.StageRecordDone,
			URLID:  "a",
			Result: progress.ResultMapped,
			Label:  "type_marker",
		},
		{
			RunID:  "r1",
			TS:     now.Add(2 * time.Second),
			Stage:  progress.StageRecordDone,
			URLID:  "b",
			Result: progress.ResultUnresolved,
			Label:  "fetch_error: dial tcp: connection refused",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.passesStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.passesRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("mapped", "type_marker")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("unresolved", "fetch_error")), 1e-9)

	done := []progress.Event{{RunID: "r1", TS: now.Add(time.Minute), Stage: progress.StagePassDone, Elapsed: time.Minute}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.passesRunning), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.passRuntime, "resolver_pass_runtime_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
