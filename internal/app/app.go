// Package app builds and owns the long-lived services behind the CLI, the
// HTTP query API and the C boundary.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/api"
	"github.com/JakeFAU/tbprogress/internal/archive"
	"github.com/JakeFAU/tbprogress/internal/clock/system"
	"github.com/JakeFAU/tbprogress/internal/config"
	"github.com/JakeFAU/tbprogress/internal/handle"
	"github.com/JakeFAU/tbprogress/internal/logging"
	"github.com/JakeFAU/tbprogress/internal/metrics"
	memorypublisher "github.com/JakeFAU/tbprogress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tbprogress/internal/publisher/pubsub"
	"github.com/JakeFAU/tbprogress/internal/scalar"
	"github.com/JakeFAU/tbprogress/internal/scalar/sinks"
	"github.com/JakeFAU/tbprogress/internal/storage"
	cqlstore "github.com/JakeFAU/tbprogress/internal/storage/cassandra"
	gcsstorage "github.com/JakeFAU/tbprogress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tbprogress/internal/storage/local"
	memorystorage "github.com/JakeFAU/tbprogress/internal/storage/memory"
	pgstore "github.com/JakeFAU/tbprogress/internal/storage/postgres"
	"github.com/JakeFAU/tbprogress/internal/store"
	"github.com/JakeFAU/tbprogress/internal/telemetry"
	"github.com/JakeFAU/tbprogress/internal/tfevents"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  tfevents.Clock

	tracer *sdktrace.TracerProvider

	registry *prometheus.Registry
	metrics  *metrics.Collectors
	promSink *sinks.PrometheusSink

	repo     store.ScalarRepository
	pgStore  *pgstore.ScalarStore
	cqlStore *cqlstore.ScalarStore

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	gcs      *gcsstorage.BlobStore
	archiver *archive.Archiver

	hub     *scalar.Hub
	handles *handle.Registry
	api     *api.Server
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger  *zap.Logger
	repo    store.ScalarRepository
	blobs   storage.BlobStore
	clock   tfevents.Clock
	tracing []telemetry.Option
}

// WithLogger uses l instead of building a logger from cfg.Logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) {
		o.logger = l
	}
}

// WithRepository uses repo instead of dialing cfg.Database.
func WithRepository(repo store.ScalarRepository) Option {
	return func(o *buildOptions) {
		o.repo = repo
	}
}

// WithBlobStore archives closed event files into blobs regardless of
// cfg.Archive.Backend.
func WithBlobStore(blobs storage.BlobStore) Option {
	return func(o *buildOptions) {
		o.blobs = blobs
	}
}

// WithClock stamps runs and records with c.
func WithClock(c tfevents.Clock) Option {
	return func(o *buildOptions) {
		o.clock = c
	}
}

// WithTracing passes opts to the tracer provider built when cfg.Tracing is
// enabled.
func WithTracing(opts ...telemetry.Option) Option {
	return func(o *buildOptions) {
		o.tracing = append(o.tracing, opts...)
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	clock := bo.clock
	if clock == nil {
		clock = system.New()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
	}
	app.logger.Info("building application dependencies",
		zap.String("log_dir", cfg.Writer.LogDir),
		zap.Bool("mirror", cfg.Mirror.Enabled),
		zap.String("archive", cfg.Archive.Backend),
	)

	if err := app.setupTracing(ctx, bo.tracing); err != nil {
		return nil, err
	}
	if err := app.setupMetrics(); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupRepository(ctx, bo.repo); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupArchive(ctx, bo.blobs); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupMirror(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.handles = handle.NewRegistry(handle.Config{
		Logger:        logger,
		Metrics:       app.metrics,
		Mirror:        app.mirror(),
		Clock:         clock,
		WriterOptions: app.writerOptions(),
		OnOpen:        app.onOpen,
		OnClose:       app.onClose,
		BaseContext:   context.WithoutCancel(ctx),
	})

	app.api = api.NewServer(api.Options{
		Repo:     app.repo,
		Logger:   logger.Named("api"),
		Metrics:  app.metrics,
		Gatherer: app.registry,
		Ready:    app.ready,
	})
	return app, nil
}

func (a *App) setupTracing(ctx context.Context, opts []telemetry.Option) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.NewTracerProvider(ctx, a.cfg.Tracing, opts...)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled",
		zap.String("project_id", a.cfg.Tracing.ProjectID),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

func (a *App) setupMetrics() error {
	a.registry = prometheus.NewRegistry()
	if !a.cfg.Prometheus.Enabled {
		a.logger.Info("prometheus collectors disabled")
		return nil
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	a.metrics, err = metrics.New(a.registry, a.cfg.Prometheus.Namespace)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	return nil
}

func (a *App) setupRepository(ctx context.Context, override store.ScalarRepository) error {
	if override != nil {
		a.repo = override
		return nil
	}
	if a.cfg.Database.DSN == "" && len(a.cfg.Database.Cassandra.Hosts) > 0 {
		return a.setupCassandra(ctx)
	}
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping runs in memory")
		a.repo = memorystorage.NewScalarStore()
		return nil
	}
	var err error
	a.pgStore, err = pgstore.NewScalarStore(ctx, pgstore.ScalarStoreConfig{
		DSN:         a.cfg.Database.DSN,
		RunsTable:   a.cfg.Database.RunsTable,
		PointsTable: a.cfg.Database.PointsTable,
		MaxConns:    a.cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("scalar store init failed: %w", err)
	}
	if a.cfg.Database.EnsureSchema {
		if err := a.pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scalar schema init failed: %w", err)
		}
	}
	a.repo = a.pgStore
	a.logger.Info("scalar store initialized",
		zap.String("runs_table", a.cfg.Database.RunsTable),
		zap.String("points_table", a.cfg.Database.PointsTable),
	)
	return nil
}

func (a *App) setupCassandra(ctx context.Context) error {
	cc := a.cfg.Database.Cassandra
	var err error
	a.cqlStore, err = cqlstore.NewScalarStore(cqlstore.Config{
		Hosts:            cc.Hosts,
		Keyspace:         cc.Keyspace,
		RunsTable:        a.cfg.Database.RunsTable,
		PointsTable:      a.cfg.Database.PointsTable,
		WriteConsistency: cc.WriteConsistency,
		ReadConsistency:  cc.ReadConsistency,
	})
	if err != nil {
		return fmt.Errorf("cassandra store init failed: %w", err)
	}
	if a.cfg.Database.EnsureSchema {
		if err := a.cqlStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("cassandra schema init failed: %w", err)
		}
	}
	a.repo = a.cqlStore
	a.logger.Info("cassandra scalar store initialized",
		zap.Strings("hosts", cc.Hosts),
		zap.String("keyspace", cc.Keyspace),
	)
	return nil
}

func (a *App) setupArchive(ctx context.Context, override storage.BlobStore) error {
	blobs := override
	if blobs == nil {
		var err error
		switch a.cfg.Archive.Backend {
		case config.ArchiveGCS:
			a.gcs, err = gcsstorage.NewFromEnv(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
			if err != nil {
				return fmt.Errorf("gcs blob store init failed: %w", err)
			}
			blobs = a.gcs
			a.logger.Info("archiving event files to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		case config.ArchiveLocal:
			blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
			if err != nil {
				return fmt.Errorf("local blob store init failed: %w", err)
			}
			a.logger.Info("archiving event files locally", zap.String("path", a.cfg.Archive.Local.BaseDir))
		case config.ArchiveMemory:
			blobs = memorystorage.NewBlobStore()
			a.logger.Info("archiving event files in memory")
		default:
			a.logger.Debug("event file archiving disabled")
			return nil
		}
	}
	a.archiver = archive.New(blobs, a.cfg.Archive.Prefix, a.logger)
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	if !a.cfg.Mirror.Enabled {
		a.logger.Info("scalar mirror disabled")
		return nil
	}
	sinkList := []scalar.Sink{sinks.NewStoreSink(a.repo, a.logger.Named("scalar_store"))}
	if a.cfg.Mirror.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("scalar_log")))
	}
	if a.cfg.Prometheus.Enabled {
		var err error
		a.promSink, err = sinks.NewPrometheusSink(a.registry, a.cfg.Prometheus.Namespace)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, a.promSink)
	}
	pub, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		sinkList = append(sinkList, sinks.NewPublisherSink(pub, a.cfg.PubSub.Topic, a.logger.Named("scalar_pubsub")))
	}

	hubCfg := scalar.Config{
		BufferSize:      a.cfg.Mirror.BufferSize,
		MaxBatchRecords: a.cfg.Mirror.Batch.MaxEvents,
		MaxBatchWait:    a.cfg.Mirror.MirrorWait(),
		SinkTimeout:     a.cfg.Mirror.SinkTimeout(),
		BaseContext:     context.WithoutCancel(ctx),
		Logger:          a.logger.Named("scalar_hub"),
	}
	a.hub = scalar.NewHub(hubCfg, sinkList...)
	a.logger.Info("scalar hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_records", hubCfg.MaxBatchRecords),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (sinks.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Debug("no Pub/Sub topic configured, scalar batches stay local")
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == memoryProject {
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Publisher(a.cfg.PubSub.Topic))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pubsubPublisher, nil
}

// memoryProject routes Pub/Sub notifications to an in-process publisher,
// which keeps local runs and tests off the network.
const memoryProject = "memory"

func (a *App) mirror() scalar.Emitter {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

func (a *App) writerOptions() []tfevents.Option {
	var opts []tfevents.Option
	if a.cfg.Writer.FlushEvery > 0 {
		opts = append(opts, tfevents.WithFlushEvery(a.cfg.Writer.FlushEvery))
	}
	if a.cfg.Writer.FilenameSuffix != "" {
		opts = append(opts, tfevents.WithFilenameSuffix(a.cfg.Writer.FilenameSuffix))
	}
	return opts
}

func (a *App) onOpen(ctx context.Context, run uuid.UUID, dir, _ string) error {
	err := a.repo.UpsertRunStart(ctx, store.Run{
		ID:        run,
		Name:      filepath.Base(dir),
		LogDir:    dir,
		StartedAt: a.clock.Now().UTC(),
		Status:    store.RunOpen,
	})
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

func (a *App) onClose(ctx context.Context, run uuid.UUID, path string) error {
	status := store.RunClosed
	var errMsg *string
	if receipt, err := a.archiver.Archive(ctx, run, path); err != nil {
		status = store.RunError
		msg := err.Error()
		errMsg = &msg
		a.logger.Warn("archive event file failed", zap.String("run", run.String()), zap.Error(err))
	} else if receipt.URI != "" {
		a.logger.Info("run archived",
			zap.String("run", run.String()),
			zap.String("uri", receipt.URI),
			zap.String("sha256", receipt.Digest),
		)
	}
	if a.promSink != nil {
		a.promSink.Forget(run.String())
	}
	if err := a.repo.CompleteRun(ctx, run, a.clock.Now().UTC(), status, errMsg); err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if _, err := a.repo.ListRuns(ctx, nil, 1, 0); err != nil {
		return fmt.Errorf("scalar repository: %w", err)
	}
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handles returns the registry that owns writers and adapters.
func (a *App) Handles() *handle.Registry {
	return a.handles
}

// Repository returns the run store.
func (a *App) Repository() store.ScalarRepository {
	return a.repo
}

// Gatherer exposes the App's Prometheus registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Mirror returns the scalar hub, or nil when mirroring is disabled.
func (a *App) Mirror() *scalar.Hub {
	return a.hub
}

// Handler returns the HTTP query API.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Serve runs the HTTP query API until ctx is canceled or a signal arrives,
// then shuts the server down and closes the App.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(<-serveErr, a.Close(shutdownCtx))
}

// Close releases every open handle, drains the mirror and closes clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.handles != nil {
		if err := a.handles.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close handles: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("scalar hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	if a.cqlStore != nil {
		a.cqlStore.Close()
		a.cqlStore = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}
