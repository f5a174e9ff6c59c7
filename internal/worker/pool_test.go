package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/progress"
	"github.com/JakeFAU/license-resolver/internal/resolver"
)

func listings(n int) []catalog.Listing {
	out := make([]catalog.Listing, n)
	for i := range out {
		out[i] = catalog.Listing{
			URLID: fmt.Sprintf("id-%03d", i),
			URL:   fmt.Sprintf("https://artist%d.bandcamp.com/album/a", i%3),
		}
	}
	return out
}

// evenMapped maps every record whose index is even.
func evenMapped(claims *sync.Map) ResolveFunc {
	return func(_ context.Context, l catalog.Listing) resolver.Outcome {
		counter, _ := claims.LoadOrStore(l.URLID, new(atomic.Int32))
		counter.(*atomic.Int32).Add(1)
		var idx int
		_, _ = fmt.Sscanf(l.URLID, "id-%d", &idx)
		out := resolver.Outcome{URLID: l.URLID, URL: l.URL}
		if idx%2 == 0 {
			out.Mapped = &resolver.Mapping{LicenseID: 4, Provenance: "type_marker"}
		} else {
			out.Reason = "no_evidence"
		}
		return out
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func TestPoolClaimsEachRecordOnceAndKeepsOrder(t *testing.T) {
	t.Parallel()

	records := listings(50)
	var claims sync.Map
	var updates []Progress
	pool := New(Config{Concurrency: 3}, nil, WithProgress(func(p Progress) {
		updates = append(updates, p)
	}))

	outcomes, err := pool.Run(context.Background(), "run-1", records, evenMapped(&claims))
	require.NoError(t, err)
	require.Len(t, outcomes, len(records))
	for i, out := range outcomes {
		require.Equal(t, records[i].URLID, out.URLID)
		counter, ok := claims.Load(out.URLID)
		require.True(t, ok)
		require.EqualValues(t, 1, counter.(*atomic.Int32).Load())
	}

	require.Len(t, updates, len(records))
	for i, u := range updates {
		require.Equal(t, i+1, u.Processed)
		require.Equal(t, u.Processed, u.Mapped+u.Unresolved)
		require.Equal(t, 50, u.Total)
	}
	last := updates[len(updates)-1]
	require.Equal(t, 25, last.Mapped)
	require.Equal(t, 25, last.Unresolved)
}

func TestPoolEmitsPassEvents(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	var claims sync.Map
	pool := New(Config{Concurrency: 2}, nil, WithEmitter(emitter))
	_, err := pool.Run(context.Background(), "run-2", listings(4), evenMapped(&claims))
	require.NoError(t, err)

	events := emitter.Events()
	require.Len(t, events, 6)
	require.Equal(t, progress.StagePassStart, events[0].Stage)
	require.Equal(t, progress.StagePassDone, events[5].Stage)
	require.Equal(t, progress.Counters{Total: 4, Processed: 4, Mapped: 2, Unresolved: 2}, events[5].Counters)

	labels := map[string]int{}
	for _, evt := range events[1:5] {
		require.Equal(t, progress.StageRecordDone, evt.Stage)
		require.Equal(t, "run-2", evt.RunID)
		require.NoError(t, evt.Validate())
		labels[evt.Label]++
	}
	require.Equal(t, map[string]int{"type_marker": 2, "no_evidence": 2}, labels)
}

func TestPoolEmptyInput(t *testing.T) {
	t.Parallel()

	pool := New(Config{}, nil)
	outcomes, err := pool.Run(context.Background(), "run-3", nil, func(context.Context, catalog.Listing) resolver.Outcome {
		t.Fatal("resolve must not be called")
		return resolver.Outcome{}
	})
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestPoolStopsClaimingWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	pool := New(Config{Concurrency: 1}, nil)
	outcomes, err := pool.Run(ctx, "run-4", listings(10), func(_ context.Context, l catalog.Listing) resolver.Outcome {
		if calls.Add(1) == 3 {
			cancel()
		}
		return resolver.Outcome{URLID: l.URLID, Reason: "no_evidence"}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 3)
	require.Equal(t, "id-002", outcomes[2].URLID)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestPoolReportsElapsedFromClock(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var last Progress
	pool := New(Config{Concurrency: 1}, nil, WithClock(clock), WithProgress(func(p Progress) { last = p }))
	var claims sync.Map
	_, err := pool.Run(context.Background(), "run-5", listings(2), evenMapped(&claims))
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, last.Elapsed)
}
