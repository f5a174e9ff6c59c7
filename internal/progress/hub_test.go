package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePassStart))
	hub.Emit(sampleEvent(StageRecordDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePassStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Second},
	}
	start := time.Now()
	hub.Emit(sampleEvent(StagePassStart))
	hub.Emit(sampleEvent(StagePassStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	bad := sampleEvent(StageRecordDone)
	bad.URLID = ""
	hub.Emit(bad)
	hub.Emit(Event{TS: time.Now(), Stage: StagePassStart})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StagePassDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StagePassDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StagePassStart).Validate())
	require.NoError(t, sampleEvent(StageRecordDone).Validate())

	unknown := sampleEvent(StageRecordDone)
	unknown.Result = "maybe"
	require.Error(t, unknown.Validate())

	stage := sampleEvent(StagePassStart)
	stage.Stage = "JOB_START"
	require.Error(t, stage.Validate())

	negative := sampleEvent(StagePassDone)
	negative.Elapsed = -time.Second
	require.Error(t, negative.Validate())

	require.Error(t, Event{RunID: "r"}.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID:    "run-1",
		TS:       time.Now(),
		Stage:    stage,
		Counters: Counters{Total: 3},
	}
	if stage == StageRecordDone {
		evt.URLID = "u1"
		evt.Host = "artist.bandcamp.com"
		evt.Result = ResultMapped
		evt.Label = "type_marker"
		evt.Counters.Processed = 1
		evt.Counters.Mapped = 1
	}
	return evt
}
