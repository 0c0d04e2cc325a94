// Package server builds the application's dependencies from configuration and
// runs the HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/api"
	"github.com/JakeFAU/listing-haul/internal/clock/system"
	"github.com/JakeFAU/listing-haul/internal/config"
	"github.com/JakeFAU/listing-haul/internal/extract"
	"github.com/JakeFAU/listing-haul/internal/hash/sha256"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/id/uuid"
	"github.com/JakeFAU/listing-haul/internal/importhost"
	"github.com/JakeFAU/listing-haul/internal/ingest"
	"github.com/JakeFAU/listing-haul/internal/lifecycle"
	"github.com/JakeFAU/listing-haul/internal/logging"
	"github.com/JakeFAU/listing-haul/internal/metrics"
	"github.com/JakeFAU/listing-haul/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/listing-haul/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-haul/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-haul/internal/quota"
	"github.com/JakeFAU/listing-haul/internal/scrape"
	gcsstorage "github.com/JakeFAU/listing-haul/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-haul/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-haul/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-haul/internal/storage/postgres"
	"github.com/JakeFAU/listing-haul/internal/telemetry"
)

// stores groups the persistence ports selected by store.driver.
type stores struct {
	hauls   haul.HaulStore
	scrapes haul.ScrapeStore
	quotas  haul.QuotaStore
	ready   haul.Pinger
}

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	pgStore         *pgstore.Store
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies. A nil logger builds one from
// the logging section of cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.String("archive", cfg.Archive.Driver),
	)
	metrics.Init()

	if err := app.setupTracing(ctx); err != nil {
		return nil, err
	}
	st, err := app.setupStores(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	blobs, err := app.setupArchive(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	importer, err := app.setupImporter(st.scrapes)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	clock := system.New()
	guard := quota.NewGuard(st.quotas, clock, quota.Config{
		MaxFreeHauls: cfg.Quota.MaxFreeHauls,
		Window:       cfg.QuotaWindow(),
	}, logger)
	base, maxDelay := cfg.RetryDelays()
	svc := lifecycle.New(st.hauls, guard, publisher, blobs, clock, uuid.New(), lifecycle.Config{
		TTL:           cfg.HaulTTL(),
		Retry:         lifecycle.NewRetryPolicy(cfg.Haul.MaxRetries, base, maxDelay),
		Topic:         cfg.Events.Topic,
		ArchivePrefix: cfg.Archive.Prefix,
	}, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.RequestsPerSecond,
			Burst: cfg.RateLimit.Burst,
		})
		logger.Info("write throttle enabled",
			zap.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	app.apiServer = api.NewServer(svc, importer, clock, api.Options{
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		RequestTimeout: cfg.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Limiter:        limiter,
		Ready:          st.ready,
	}, logger)
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
		close(errCh)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	if err := <-errCh; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases clients and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(_ context.Context) {
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
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout for some platforms; nothing to recover.
	_ = a.logger.Sync()
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled",
		zap.String("service_name", a.cfg.Tracing.ServiceName),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	switch a.cfg.Store.Driver {
	case "postgres":
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Store.DSN,
			MaxConns: a.cfg.Store.MaxConns,
		})
		if err != nil {
			return stores{}, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore = pg
		if a.cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return stores{}, fmt.Errorf("postgres migrate failed: %w", err)
			}
			a.logger.Info("postgres schema applied")
		}
		a.logger.Info("using postgres store")
		return stores{hauls: pg, scrapes: pg, quotas: pg, ready: pg}, nil
	default:
		a.logger.Warn("using in-memory store; hauls are lost on restart")
		hauls := memorystorage.NewHaulStore()
		return stores{
			hauls:   hauls,
			scrapes: memorystorage.NewScrapeStore(),
			quotas:  memorystorage.NewQuotaStore(),
			ready:   hauls,
		}, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (haul.Publisher, error) {
	switch a.cfg.Events.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = gcppublisher.New(client)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return a.pubsubPublisher, nil
	case "memory":
		a.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("lifecycle events disabled")
		return nil, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (haul.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving exports to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving exports locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("archiving exports in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("export archive disabled")
		return nil, nil
	}
}

func (a *App) setupImporter(scrapes haul.ScrapeStore) (*ingest.Importer, error) {
	var (
		hosts *importhost.Registry
		err   error
	)
	if a.cfg.ImportHosts != "" {
		hosts, err = importhost.LoadFile(a.cfg.ImportHosts)
	} else {
		hosts, err = importhost.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("import hosts init failed: %w", err)
	}
	engine, err := extract.NewDefaultEngine()
	if err != nil {
		return nil, fmt.Errorf("extraction engine init failed: %w", err)
	}
	for _, h := range hosts.Hosts() {
		if !engine.HasScraper(h.ScraperName) {
			return nil, fmt.Errorf("import host %s names unknown scraper %q", h.Host, h.ScraperName)
		}
	}
	a.logger.Info("import hosts loaded", zap.Int("count", len(hosts.Hosts())))
	return ingest.New(hosts, engine, scrape.NewBuilder(sha256.New(), system.New()), scrapes, a.logger), nil
}
