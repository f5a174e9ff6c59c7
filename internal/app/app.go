// Package app builds and owns the long-lived services behind every command:
// fetchers, report stores, the progress hub, the publisher and the pass runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/alias"
	"github.com/JakeFAU/license-resolver/internal/api"
	"github.com/JakeFAU/license-resolver/internal/clock/system"
	"github.com/JakeFAU/license-resolver/internal/config"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
	collyfetcher "github.com/JakeFAU/license-resolver/internal/fetcher/colly"
	"github.com/JakeFAU/license-resolver/internal/id/uuid"
	"github.com/JakeFAU/license-resolver/internal/logging"
	"github.com/JakeFAU/license-resolver/internal/metrics"
	"github.com/JakeFAU/license-resolver/internal/orchestrator"
	"github.com/JakeFAU/license-resolver/internal/pipeline"
	"github.com/JakeFAU/license-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/license-resolver/internal/progress"
	progresssinks "github.com/JakeFAU/license-resolver/internal/progress/sinks"
	"github.com/JakeFAU/license-resolver/internal/publisher"
	gcppublisher "github.com/JakeFAU/license-resolver/internal/publisher/pubsub"
	"github.com/JakeFAU/license-resolver/internal/report"
	"github.com/JakeFAU/license-resolver/internal/resolver"
	"github.com/JakeFAU/license-resolver/internal/storage"
	gcsstorage "github.com/JakeFAU/license-resolver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/license-resolver/internal/storage/local"
	memorystorage "github.com/JakeFAU/license-resolver/internal/storage/memory"
	pgstore "github.com/JakeFAU/license-resolver/internal/storage/postgres"
	"github.com/JakeFAU/license-resolver/internal/telemetry"
	"github.com/JakeFAU/license-resolver/internal/wayback"
)

const statusBoardSize = 20

// Option customizes Build.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	fetcher   resolver.Fetcher
	publisher publisher.Publisher
	version   string
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFetcher replaces the HTTP fetch stack, mainly for tests.
func WithFetcher(f resolver.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPublisher replaces the configured notification publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithVersion stamps the build version on traces.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// App holds every long-lived service. Close releases them in reverse order
// of construction.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	clock    *system.Clock

	reports   report.Store
	publisher publisher.Publisher
	hub       *progress.Hub
	board     *progresssinks.StatusBoard
	runner    *pipeline.Runner

	gcs            *gcsstorage.BlobStore
	index          *pgstore.ReportStore
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
	ownsLogger     bool
}

// Build wires the application from cfg. It performs no dataset I/O; remote
// backends are dialed so misconfiguration fails before the first pass.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, clock: system.New(), logger: o.logger}
	if a.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		a.logger = logger
		a.ownsLogger = true
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     o.version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(a.registry); err != nil {
		return nil, err
	}

	built := false
	defer func() {
		if !built {
			a.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	if a.reports, err = a.setupReports(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.setupPublisher(ctx, o.publisher); err != nil {
		return nil, err
	}
	if err := a.setupProgress(); err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Fetcher:   o.fetcher,
		Clock:     a.clock,
		IDs:       uuid.New(),
		Store:     a.reports,
		Publisher: a.publisher,
		Emitter:   a.hub,
		Logger:    a.logger,
	}
	if deps.Fetcher == nil {
		deps.Fetcher = a.setupFetcher()
	}
	if cfg.Fallback.Archive {
		deps.Archive = wayback.New(cfg.Fallback.ArchiveEndpoint, deps.Fetcher)
	}
	if cfg.Fallback.Alias {
		deps.Alias = alias.New(cfg.Fallback.SearchEndpoint, deps.Fetcher)
	}

	a.runner, err = pipeline.New(pipeline.Config{
		ListingsPath: cfg.Data.Listings,
		LicensesPath: cfg.Data.Licenses,
		Concurrency:  cfg.Resolver.Concurrency,
		Limit:        cfg.Resolver.Limit,
		Write:        cfg.Resolver.Write,
		Resolver: resolver.Options{
			Archive:            cfg.Fallback.Archive,
			Alias:              cfg.Fallback.Alias,
			Consensus:          cfg.Fallback.Consensus,
			ConsensusMinKnown:  cfg.Fallback.ConsensusMinKnown,
			ConsensusMinPurity: cfg.Fallback.ConsensusMinPurity,
		},
		Report: report.Options{
			Timeout:            cfg.HTTP.Timeout,
			MaxRetries:         cfg.HTTP.MaxRetries,
			RetryStatuses:      cfg.HTTP.RetryStatuses,
			BackoffBase:        cfg.HTTP.BackoffBase,
			BackoffMax:         cfg.HTTP.BackoffMax,
			Archive:            cfg.Fallback.Archive,
			Alias:              cfg.Fallback.Alias,
			Consensus:          cfg.Fallback.Consensus,
			ConsensusMinKnown:  cfg.Fallback.ConsensusMinKnown,
			ConsensusMinPurity: cfg.Fallback.ConsensusMinPurity,
		},
		Topic: cfg.PubSub.TopicName,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.logger.Info("application built",
		zap.String("listings", cfg.Data.Listings),
		zap.String("reports_backend", cfg.Reports.Backend),
		zap.Bool("write", cfg.Resolver.Write),
		zap.Int("concurrency", cfg.Resolver.Concurrency),
	)
	built = true
	return a, nil
}

func (a *App) setupFetcher() *fetcher.Retrying {
	getter := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Resolver.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
	})
	var fetchOpts []fetcher.Option
	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.RateLimitRPS, Burst: a.cfg.HTTP.RateLimitBurst})
	if limiter.Enabled() {
		fetchOpts = append(fetchOpts, fetcher.WithLimiter(limiter))
		a.logger.Info("rate limiter enabled",
			zap.Float64("rps", a.cfg.HTTP.RateLimitRPS),
			zap.Int("burst", a.cfg.HTTP.RateLimitBurst),
		)
	}
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Resolver.UserAgent))
	return fetcher.New(getter, fetcher.Options{
		Timeout:       a.cfg.HTTP.Timeout,
		MaxRetries:    a.cfg.HTTP.MaxRetries,
		RetryStatuses: a.cfg.RetryStatusSet(),
		Backoff:       fetcher.ExponentialBackoff{Base: a.cfg.HTTP.BackoffBase, Max: a.cfg.HTTP.BackoffMax},
	}, a.logger, fetchOpts...)
}

func (a *App) setupReports(ctx context.Context) (report.Store, error) {
	var (
		blobs  storage.BlobStore
		prefix = a.cfg.Reports.Prefix
		err    error
	)
	switch a.cfg.Reports.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS report backend", zap.String("bucket", a.cfg.Reports.GCSBucket))
		a.gcs, err = gcsstorage.Open(ctx, gcsstorage.DefaultClientFactory{}, gcsstorage.Config{Bucket: a.cfg.Reports.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs report store init failed: %w", err)
		}
		blobs = a.gcs
	case config.BackendLocal:
		a.logger.Info("using local report backend", zap.String("dir", a.cfg.Reports.Dir))
		blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Reports.Dir})
		if err != nil {
			return nil, fmt.Errorf("local report store init failed: %w", err)
		}
		// The directory already namespaces local reports.
		prefix = ""
	default:
		a.logger.Warn("using in-memory report backend; reports are lost on exit")
		blobs = memorystorage.NewBlobStore()
	}
	archive := report.NewArchive(blobs, prefix)
	if a.cfg.Reports.IndexDSN == "" {
		return archive, nil
	}

	a.index, err = pgstore.NewReportStore(ctx, pgstore.ReportStoreConfig{DSN: a.cfg.Reports.IndexDSN})
	if err != nil {
		return nil, fmt.Errorf("report index init failed: %w", err)
	}
	if err := a.index.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("report index schema: %w", err)
	}
	a.logger.Info("report index enabled")
	return report.Multi{archive, a.index}, nil
}

func (a *App) setupPublisher(ctx context.Context, override publisher.Publisher) (publisher.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, pass notifications disabled")
		return nil, nil
	}
	var err error
	a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsub, nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics sink: %w", err)
	}
	a.board = progresssinks.NewStatusBoard(statusBoardSize)
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress_log"), a.cfg.Resolver.ProgressInterval),
		promSink,
		a.board,
	)
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the pass runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Reports returns the configured report store.
func (a *App) Reports() report.Store { return a.reports }

// Board returns the in-memory view of recent passes.
func (a *App) Board() *progresssinks.StatusBoard { return a.board }

// Orchestrator builds a multi-pass loop over the app's runner.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		MaxPasses:      a.cfg.Orchestrator.MaxPasses,
		StallThreshold: a.cfg.Orchestrator.StallThreshold,
		PassDelay:      a.cfg.Orchestrator.PassDelay,
	}, a.runner.RunPass, a.clock, a.logger)
}

// Serve starts the status server when server.addr is set. The returned
// function shuts it down.
func (a *App) Serve(ctx context.Context, status api.StatusSource) func(context.Context) error {
	if a.cfg.Server.Addr == "" {
		return func(context.Context) error { return nil }
	}
	handler := api.NewServer(api.Deps{
		Status:   status,
		Passes:   a.board,
		Reports:  a.reports,
		Gatherer: a.registry,
		APIKey:   a.cfg.Server.APIKey,
		Logger:   a.logger,
	}).Handler()
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return srv.Shutdown
}

// Close flushes progress, stops publishers and closes remote clients.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.index != nil {
		a.index.Close()
		a.index = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
}
