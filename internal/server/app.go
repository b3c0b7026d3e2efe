// Package server builds the application's dependencies and runs it either
// once or as a long-lived service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/api"
	"github.com/JakeFAU/sitewatch/internal/clock/system"
	"github.com/JakeFAU/sitewatch/internal/config"
	collyfetcher "github.com/JakeFAU/sitewatch/internal/fetcher/colly"
	"github.com/JakeFAU/sitewatch/internal/fetcher/ratelimit"
	"github.com/JakeFAU/sitewatch/internal/handler"
	"github.com/JakeFAU/sitewatch/internal/hash"
	"github.com/JakeFAU/sitewatch/internal/id/uuid"
	"github.com/JakeFAU/sitewatch/internal/logging"
	gcppublisher "github.com/JakeFAU/sitewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/sitewatch/internal/report"
	"github.com/JakeFAU/sitewatch/internal/scanner"
	gcsstorage "github.com/JakeFAU/sitewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitewatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitewatch/internal/storage/postgres"
	s3storage "github.com/JakeFAU/sitewatch/internal/storage/s3"
	"github.com/JakeFAU/sitewatch/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	clock       tracker.Clock
	handler     *handler.Handler
	apiServer   *api.Server
	records     tracker.RecordStore
	pgStore     *pgstore.RecordStore
	storage     *storage.Client
	publisher   *gcppublisher.Publisher
	ownedLogger bool
}

// Option customizes Build.
type Option func(*App)

// WithClock replaces the wall clock used to timestamp runs.
func WithClock(c tracker.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogger supplies a logger instead of building one from config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithRecordStore replaces the configured record store.
func WithRecordStore(s tracker.RecordStore) Option {
	return func(a *App) { a.records = s }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, clock: system.New()}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		app.ownedLogger = true
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("reports_backend", cfg.Reports.Backend),
		zap.Int("port", cfg.Server.Port),
	)

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(); cerr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if a.records == nil {
		if err := a.setupRecordStore(ctx); err != nil {
			return err
		}
	}
	blobs, err := a.setupReportStorage(ctx)
	if err != nil {
		return err
	}
	reports, err := report.NewWriter(blobs, a.cfg.Reports.Prefix, a.cfg.Location())
	if err != nil {
		return fmt.Errorf("report writer init failed: %w", err)
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	hasher, err := hash.New(a.cfg.Scanner.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("hasher init failed: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Bool("respect_robots", a.cfg.HTTP.RespectRobots),
		zap.Float64("max_rps", a.cfg.HTTP.MaxRPS),
	)

	scanCfg := scanner.Config{
		Exclude:        a.cfg.Scanner.Exclude,
		Concurrency:    a.cfg.Scanner.Concurrency,
		FetchTimeout:   a.cfg.FetchTimeout(),
		Window:         a.cfg.Scanner.FreshnessWindow,
		Tolerance:      a.cfg.Scanner.Tolerance,
		Location:       a.cfg.Location(),
		PersistTouched: a.cfg.Scanner.PersistTouched,
		Topic:          a.cfg.PubSub.TopicName,
		Throttle:       ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.MaxRPS, Burst: a.cfg.HTTP.Burst}),
	}
	a.logger.Info("scanner config",
		zap.Strings("exclude", scanCfg.Exclude),
		zap.Int("concurrency", scanCfg.Concurrency),
		zap.Duration("fetch_timeout", scanCfg.FetchTimeout),
		zap.Duration("window", scanCfg.Window),
		zap.Duration("tolerance", scanCfg.Tolerance),
		zap.String("timezone", scanCfg.Location.String()),
		zap.Bool("persist_touched", scanCfg.PersistTouched),
	)
	var pub tracker.Publisher
	if publisher != nil {
		pub = publisher
	}
	scan, err := scanner.New(a.records, a.records, reports, fetcher, hasher, uuid.New(), pub, scanCfg, a.logger)
	if err != nil {
		return fmt.Errorf("scanner init failed: %w", err)
	}
	a.handler, err = handler.New(scan, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("handler init failed: %w", err)
	}
	a.apiServer = api.NewServer(a.handler, a.cfg.Auth, a.ready, a.logger.Named("api"))
	return nil
}

func (a *App) setupRecordStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			PageSize: a.cfg.DB.PageSize,
			MaxConns: a.cfg.DB.MaxConns,
		}, a.logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		a.pgStore = store
		a.records = store
		a.logger.Info("using postgres record store", zap.String("table", a.cfg.DB.Table))
	default:
		if a.cfg.Store.SeedFile == "" {
			a.logger.Warn("in-memory record store has no seed file; runs will find no records")
			a.records = memorystorage.NewRecordStore()
			return nil
		}
		store, err := memorystorage.NewRecordStoreFromFile(a.cfg.Store.SeedFile)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		a.records = store
		a.logger.Info("using in-memory record store", zap.String("seed_file", a.cfg.Store.SeedFile))
	}
	return nil
}

func (a *App) setupReportStorage(ctx context.Context) (tracker.BlobStore, error) {
	rc := a.cfg.Reports
	switch rc.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: rc.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS report storage", zap.String("bucket", rc.Bucket))
		return store, nil
	case config.BackendS3:
		store, err := s3storage.New(ctx, s3storage.Config{
			Bucket:       rc.Bucket,
			Region:       rc.S3Region,
			UsePathStyle: rc.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.logger.Info("using S3 report storage", zap.String("bucket", rc.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{Dir: rc.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local report storage", zap.String("dir", rc.Dir))
		return store, nil
	default:
		a.logger.Info("using in-memory report storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (*gcppublisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, change notifications disabled")
		return nil, nil
	}
	publisher, err := gcppublisher.NewForProject(ctx, a.cfg.PubSub.ProjectID, scanner.EventRecordChanged)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	return a.pgStore.Ping(ctx)
}

// Invoke runs one event through the handler.
func (a *App) Invoke(ctx context.Context, mode string) (handler.Response, error) {
	resp, err := a.handler.Handle(ctx, handler.Event{RunMode: mode})
	if err != nil {
		return resp, fmt.Errorf("invoke %q: %w", mode, err)
	}
	return resp, nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve starts the HTTP server and the run schedule, and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled runs ignore the shutdown signal until the drain window expires.
	runCtx, interruptRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer interruptRuns()
	sched, err := a.schedule(runCtx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	if sched != nil {
		a.drainSchedule(sched, shutdownTimeout, interruptRuns)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// schedule registers the periodic check_domains run. An empty cron spec
// disables scheduling.
func (a *App) schedule(ctx context.Context) (*cron.Cron, error) {
	spec := a.cfg.Schedule.Cron
	if spec == "" {
		a.logger.Info("no schedule configured, runs are triggered via /invoke only")
		return nil, nil
	}
	logger := a.logger.Named("cron")
	c := cron.New(
		cron.WithLocation(a.cfg.Location()),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)
	if _, err := c.AddFunc(spec, func() { a.scheduledRun(ctx, logger) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	logger.Info("run schedule started", zap.String("cron", spec), zap.String("timezone", a.cfg.Location().String()))
	return c, nil
}

// drainSchedule stops the scheduler and waits for an active run. A run still
// going after timeout is interrupted; it keeps the records it finished.
func (a *App) drainSchedule(sched *cron.Cron, timeout time.Duration, interrupt context.CancelFunc) {
	done := sched.Stop().Done()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}
	a.logger.Warn("scheduled run still active at shutdown, interrupting", zap.Duration("waited", timeout))
	interrupt()
	<-done
}

func (a *App) scheduledRun(ctx context.Context, logger *zap.Logger) {
	resp, err := a.handler.Handle(ctx, handler.Event{RunMode: handler.ModeCheckDomains})
	if err != nil {
		logger.Warn("scheduled run failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		return
	}
	logger.Info("scheduled run finished", zap.Int("status", resp.StatusCode))
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub publisher: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	a.logger.Info("shutdown complete")
	if a.ownedLogger {
		// Sync on stderr-backed loggers reports EINVAL on some platforms.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
