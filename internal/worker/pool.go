// Package worker drives the fallback chain over a fixed list of listings with
// a bounded number of concurrent workers.
package worker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/progress"
	"github.com/JakeFAU/license-resolver/internal/resolver"
)

// DefaultConcurrency keeps request volume polite toward third-party hosts.
const DefaultConcurrency = 4

// ResolveFunc resolves one listing. It must convert every failure into the outcome.
type ResolveFunc func(ctx context.Context, l catalog.Listing) resolver.Outcome

// Progress is reported after every finished record.
type Progress struct {
	Total      int
	Processed  int
	Mapped     int
	Unresolved int
	Elapsed    time.Duration
	Last       resolver.Outcome
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config sizes the pool.
type Config struct {
	Concurrency int
}

// Option customizes a Pool.
type Option func(*Pool)

// WithEmitter forwards pass and record events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pool) {
		p.emitter = e
	}
}

// WithProgress registers a callback invoked after every record. Calls are
// serialized, so the callback needs no locking of its own.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pool) {
		p.onProgress = fn
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// Pool runs a ResolveFunc across records with a fixed worker count.
type Pool struct {
	concurrency int
	emitter     progress.Emitter
	onProgress  func(Progress)
	clock       Clock
	logger      *zap.Logger
}

// New creates a Pool.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		concurrency: cfg.Concurrency,
		clock:       wallClock{},
		logger:      logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run resolves every record once and returns the outcomes in input order.
// When ctx ends, unclaimed records are skipped and only finished outcomes are
// returned alongside ctx's error.
func (p *Pool) Run(ctx context.Context, runID string, records []catalog.Listing, resolve ResolveFunc) ([]resolver.Outcome, error) {
	start := p.clock.Now()
	results := make([]resolver.Outcome, len(records))
	finished := make([]bool, len(records))
	tally := &tally{total: len(records)}

	p.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StagePassStart, Counters: tally.counters()})
	p.logger.Info("pool started",
		zap.String("run_id", runID),
		zap.Int("records", len(records)),
		zap.Int("concurrency", p.concurrency),
	)

	var cursor atomic.Int64
	workers := min(p.concurrency, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1) - 1)
				if i >= len(records) {
					return nil
				}
				out := resolve(gctx, records[i])
				results[i] = out
				finished[i] = true
				p.report(runID, start, tally, out)
			}
		})
	}
	err := g.Wait()

	outcomes := make([]resolver.Outcome, 0, len(records))
	for i, done := range finished {
		if done {
			outcomes = append(outcomes, results[i])
		}
	}

	elapsed := p.clock.Now().Sub(start)
	counters := tally.counters()
	p.emit(progress.Event{
		RunID:    runID,
		TS:       start.Add(elapsed),
		Stage:    progress.StagePassDone,
		Counters: counters,
		Elapsed:  elapsed,
	})
	p.logger.Info("pool finished",
		zap.String("run_id", runID),
		zap.Int("processed", counters.Processed),
		zap.Int("mapped", counters.Mapped),
		zap.Int("unresolved", counters.Unresolved),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return outcomes, err
}

func (p *Pool) report(runID string, start time.Time, t *tally, out resolver.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	result, label := progress.ResultUnresolved, out.Reason
	if out.Mapped != nil {
		t.mapped++
		result, label = progress.ResultMapped, out.Mapped.Provenance
	} else {
		t.unresolved++
	}
	now := p.clock.Now()
	counters := t.countersLocked()
	p.emit(progress.Event{
		RunID:    runID,
		TS:       now,
		Stage:    progress.StageRecordDone,
		URLID:    out.URLID,
		Host:     catalog.Host(out.URL),
		Result:   result,
		Label:    label,
		Counters: counters,
		Elapsed:  now.Sub(start),
	})
	if p.onProgress != nil {
		p.onProgress(Progress{
			Total:      counters.Total,
			Processed:  counters.Processed,
			Mapped:     counters.Mapped,
			Unresolved: counters.Unresolved,
			Elapsed:    now.Sub(start),
			Last:       out,
		})
	}
}

func (p *Pool) emit(evt progress.Event) {
	if p.emitter == nil {
		return
	}
	if evt.Stage == progress.StageRecordDone && strings.TrimSpace(evt.Label) == "" {
		evt.Label = "unknown"
	}
	if evt.Elapsed < 0 {
		evt.Elapsed = 0
	}
	p.emitter.Emit(evt)
}

type tally struct {
	mu         sync.Mutex
	total      int
	processed  int
	mapped     int
	unresolved int
}

func (t *tally) counters() progress.Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countersLocked()
}

func (t *tally) countersLocked() progress.Counters {
	return progress.Counters{
		Total:      t.total,
		Processed:  t.processed,
		Mapped:     t.mapped,
		Unresolved: t.unresolved,
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
