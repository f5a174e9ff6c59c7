// Package pipeline runs one resolution pass end to end: load, resolve, merge,
// report, persist and notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/consensus"
	"github.com/JakeFAU/license-resolver/internal/evidence"
	"github.com/JakeFAU/license-resolver/internal/merge"
	"github.com/JakeFAU/license-resolver/internal/metrics"
	"github.com/JakeFAU/license-resolver/internal/progress"
	"github.com/JakeFAU/license-resolver/internal/publisher"
	"github.com/JakeFAU/license-resolver/internal/report"
	"github.com/JakeFAU/license-resolver/internal/resolver"
	"github.com/JakeFAU/license-resolver/internal/worker"
)

const tracerName = "github.com/JakeFAU/license-resolver/internal/pipeline"

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config describes one pass.
type Config struct {
	ListingsPath string
	LicensesPath string
	Concurrency  int
	Limit        int
	Write        bool
	Resolver     resolver.Options
	// Report is copied into every report; Write, Concurrency and Limit are
	// filled from the fields above.
	Report report.Options
	Topic  string
}

// Deps are the collaborators shared by every pass.
type Deps struct {
	Fetcher   resolver.Fetcher
	Archive   resolver.Archive
	Alias     resolver.AliasFinder
	Clock     resolver.Clock
	IDs       IDGenerator
	Store     report.Store
	Publisher publisher.Publisher
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Runner executes passes. It keeps no dataset between passes; each pass
// reloads the canonical files.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates the configuration before any network I/O.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case cfg.ListingsPath == "" || cfg.LicensesPath == "":
		return nil, errors.New("pipeline: listings and licenses paths are required")
	case cfg.Limit < 0:
		return nil, fmt.Errorf("pipeline: limit must be >= 0, got %d", cfg.Limit)
	case deps.Fetcher == nil || deps.Clock == nil || deps.IDs == nil || deps.Store == nil:
		return nil, errors.New("pipeline: fetcher, clock, id generator and report store are required")
	case cfg.Resolver.Archive && deps.Archive == nil:
		return nil, errors.New("pipeline: archive fallback enabled without an archive client")
	case cfg.Resolver.Alias && deps.Alias == nil:
		return nil, errors.New("pipeline: alias fallback enabled without a finder")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = worker.DefaultConcurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger.Named("pipeline")}, nil
}

// RunPass performs one pass and returns its report. The report is persisted
// even when the pass made no progress. When ctx is canceled mid-pass the
// finished outcomes are still merged and reported, and ctx's error is returned
// alongside the report.
func (r *Runner) RunPass(ctx context.Context) (rep report.Report, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "resolver.pass",
		trace.WithAttributes(
			attribute.Bool("resolver.write", r.cfg.Write),
			attribute.Int("resolver.limit", r.cfg.Limit),
		),
	)
	defer func() {
		if rep.RunID != "" {
			span.SetAttributes(
				attribute.String("resolver.run_id", rep.RunID),
				attribute.Int("resolver.processed", rep.Summary.Processed),
				attribute.Int("resolver.mapped", rep.Summary.Mapped),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	started := r.deps.Clock.Now()
	ds, err := catalog.Load(r.cfg.ListingsPath, r.cfg.LicensesPath)
	if err != nil {
		return report.Report{}, fmt.Errorf("load dataset: %w", err)
	}
	digestBefore, err := ds.Digest()
	if err != nil {
		return report.Report{}, err
	}
	before := ds.Snapshot()

	pending := ds.Unresolved()
	if r.cfg.Limit > 0 && len(pending) > r.cfg.Limit {
		pending = pending[:r.cfg.Limit]
	}

	var table *consensus.Table
	if r.cfg.Resolver.Consensus {
		table = consensus.Build(ds.Listings, ds.KnownIDs())
	}
	res, err := resolver.New(resolver.Deps{
		Fetcher:   r.deps.Fetcher,
		Extractor: evidence.NewExtractor(evidence.NewCatalog(ds.Licenses)),
		Archive:   r.deps.Archive,
		Alias:     r.deps.Alias,
		Clock:     r.deps.Clock,
		Logger:    r.logger,
	}, r.cfg.Resolver)
	if err != nil {
		return report.Report{}, err
	}

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return report.Report{}, err
	}
	log := r.logger.With(zap.String("run_id", runID))
	log.Info("pass starting",
		zap.Int("unresolved", before.Unresolved),
		zap.Int("selected", len(pending)),
		zap.Bool("write", r.cfg.Write),
	)

	var poolOpts []worker.Option
	if r.deps.Emitter != nil {
		poolOpts = append(poolOpts, worker.WithEmitter(r.deps.Emitter))
	}
	pool := worker.New(worker.Config{Concurrency: r.cfg.Concurrency}, r.logger, poolOpts...)
	outcomes, runErr := pool.Run(ctx, runID, pending, func(ctx context.Context, l catalog.Listing) resolver.Outcome {
		return res.Resolve(ctx, l, table)
	})
	outcomes, interrupted := dropInterrupted(outcomes)
	if interrupted > 0 {
		log.Warn("discarding interrupted outcomes", zap.Int("count", interrupted))
	}

	preview := ds.Clone()
	merged, err := merge.Apply(preview, outcomes)
	if err != nil {
		return report.Report{}, fmt.Errorf("merge outcomes: %w", err)
	}
	digestAfter, err := preview.Digest()
	if err != nil {
		return report.Report{}, err
	}
	after := preview.Snapshot()

	opts := r.cfg.Report
	opts.Write = r.cfg.Write
	opts.Concurrency = r.cfg.Concurrency
	opts.Limit = r.cfg.Limit
	rep = report.Report{
		RunID:       runID,
		Kind:        report.KindPass,
		GeneratedAt: r.deps.Clock.Now(),
		Options:     opts,
		Dataset:     report.Counts(before, after, digestBefore, digestAfter),
		Summary:     report.Summarize(outcomes),
		Outcomes:    outcomes,
	}

	// Persistence must finish even when the pass itself was canceled.
	persistCtx := context.WithoutCancel(ctx)
	location, err := r.deps.Store.Save(persistCtx, rep)
	if err != nil {
		return rep, fmt.Errorf("save report: %w", err)
	}
	if r.cfg.Write {
		if err := catalog.Save(preview, r.cfg.ListingsPath, r.cfg.LicensesPath); err != nil {
			return rep, fmt.Errorf("save dataset: %w", err)
		}
	}

	elapsed := r.deps.Clock.Now().Sub(started)
	metrics.ObservePass(elapsed, after.Unresolved)
	r.notify(persistCtx, log, rep, location)

	log.Info("pass complete",
		zap.Int("processed", rep.Summary.Processed),
		zap.Int("mapped", rep.Summary.Mapped),
		zap.Int("unresolved", rep.Summary.Unresolved),
		zap.Int("rewritten", merged.Rewritten),
		zap.Int("unresolved_after", after.Unresolved),
		zap.String("report", location),
		zap.Duration("elapsed", elapsed),
	)
	return rep, runErr
}

// dropInterrupted removes outcomes whose live fetch was canceled. Those
// listings stay untouched and are picked up by a later pass.
func dropInterrupted(outcomes []resolver.Outcome) ([]resolver.Outcome, int) {
	kept := outcomes[:0]
	for _, o := range outcomes {
		if !o.Interrupted() {
			kept = append(kept, o)
		}
	}
	return kept, len(outcomes) - len(kept)
}

func (r *Runner) notify(ctx context.Context, log *zap.Logger, rep report.Report, location string) {
	if r.deps.Publisher == nil || r.cfg.Topic == "" {
		return
	}
	msg := publisher.PassCompleted{
		RunID:           rep.RunID,
		GeneratedAt:     rep.GeneratedAt,
		DryRun:          rep.Options.DryRun(),
		Processed:       rep.Summary.Processed,
		Mapped:          rep.Summary.Mapped,
		Unresolved:      rep.Summary.Unresolved,
		UnresolvedAfter: rep.Dataset.UnresolvedAfter,
		ReportLocation:  location,
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id, err := r.deps.Publisher.Publish(pubCtx, r.cfg.Topic, msg)
	if err != nil {
		log.Warn("pass notification failed", zap.Error(err))
		return
	}
	log.Debug("pass notification published", zap.String("message_id", id))
}
