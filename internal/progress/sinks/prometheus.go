package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/license-resolver/internal/progress"
)

// PrometheusSink exports pass progress via Prometheus. It owns the collectors
// for passes started and running, per-record results and pass runtime.
type PrometheusSink struct {
	passesStarted prometheus.Counter
	passesRunning prometheus.Gauge
	passRuntime   prometheus.Histogram
	records       *prometheus.CounterVec

	tracker *passTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		passesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_passes_started_total",
			Help: "Total resolution passes that have started.",
		}),
		passesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resolver_passes_running",
			Help: "Current number of running passes.",
		}),
		passRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resolver_pass_runtime_seconds",
			Help:    "Wall time per finished pass, as reported by the pool.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_records_total",
			Help: "Finished records partitioned by result and label (provenance or reason bucket).",
		}, []string{"result", "label"}),
		tracker: newPassTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.passesStarted,
		s.passesRunning,
		s.passRuntime,
		s.records,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePassStart:
			s.passesStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.passesRunning.Inc()
			}
		case progress.StagePassDone:
			if evt.Elapsed > 0 {
				s.passRuntime.Observe(evt.Elapsed.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.passesRunning.Dec()
			}
		case progress.StageRecordDone:
			s.records.WithLabelValues(string(evt.Result), labelBucket(evt.Label)).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// labelBucket keeps label cardinality bounded: free-form detail after the
// first colon (fetch error messages) is dropped.
func labelBucket(label string) string {
	bucket, _, _ := strings.Cut(label, ":")
	if bucket == "" {
		return "unknown"
	}
	return bucket
}

type passTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newPassTracker() *passTracker {
	return &passTracker{running: make(map[string]struct{})}
}

func (t *passTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *passTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
