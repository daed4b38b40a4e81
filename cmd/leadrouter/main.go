package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/lead-router-go/internal/config"
	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/handler"
	"github.com/boddenberg/lead-router-go/internal/infra/cache"
	"github.com/boddenberg/lead-router-go/internal/infra/client"
	"github.com/boddenberg/lead-router-go/internal/infra/memstore"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/infra/postgres"
	"github.com/boddenberg/lead-router-go/internal/infra/queue"
	"github.com/boddenberg/lead-router-go/internal/infra/resilience"
	"github.com/boddenberg/lead-router-go/internal/infra/storage"
	"github.com/boddenberg/lead-router-go/internal/infra/supabase"
	"github.com/boddenberg/lead-router-go/internal/port"
	"github.com/boddenberg/lead-router-go/internal/service"

	"go.uber.org/zap"
)

const usage = `usage: leadrouter [command]

commands:
  serve              run the HTTP API, routing worker and sweeper (default)
  migrate            apply the postgres schema and exit
  sweep              run one stale-routing sweep and exit
  token <subject>    print an operator access token
  apikey             print a new ingest API key and its bcrypt hash`

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "migrate":
		err = migrate()
	case "sweep":
		err = sweepOnce()
	case "token":
		err = printToken(os.Args[2:])
	case "apikey":
		err = printAPIKey()
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "leadrouter:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	logger := observability.NewLogger(observability.LogConfig{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

// app holds every wired component.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	reporter *observability.SentryReporter

	store    port.Store
	router   *service.Router
	leads    *service.LeadService
	profiles *service.ProfileService
	importer *service.Importer
	auth     *service.AuthService
	sweeper  *service.Sweeper

	mq     *queue.RabbitMQ
	worker *queue.Worker
	checks []handler.HealthCheck
	closer []func() error
}

func (a *app) close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	reporter, err := observability.NewSentryReporter(cfg.SentryDSN, cfg.Environment, logger)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	a.reporter = reporter

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Store ---
	switch cfg.StoreBackend {
	case config.StoreSupabase:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		a.store = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			logger,
		)
	case config.StorePostgres:
		logger.Info("using postgres as data backend")
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConcurrency, logger)
		if err != nil {
			return nil, err
		}
		a.closer = append(a.closer, pg.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
		a.store = pg
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		a.store = memstore.New()
	}
	a.checks = append(a.checks, handler.HealthCheck{Name: "store", Check: a.store.Ping})

	// --- Geocoding ---
	var geocoder port.Geocoder
	if cfg.GeocoderURL != "" {
		var geoCache port.GeoCache = cache.NewMemoryGeoCache(cfg.CacheTTL)
		if cfg.RedisURL != "" {
			rc, err := cache.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.closer = append(a.closer, rc.Close)
			redisCache := cache.NewRedisGeoCache(rc, cfg.CacheTTL, logger)
			a.checks = append(a.checks, handler.HealthCheck{Name: "redis", Check: redisCache.Ping})
			geoCache = redisCache
		}
		geocoder = client.NewGeocoderClient(
			httpClient,
			cfg.GeocoderURL,
			cfg.GeocoderUserAgent,
			resilience.NewCircuitBreaker("geocoder", logger),
			resilienceCfg,
			geoCache,
			a.metrics,
			logger,
		)
	} else {
		logger.Info("geocoding disabled; radius targeting uses submitted coordinates only")
	}

	// --- Queue ---
	var routeQueue port.RouteQueue
	var events port.EventPublisher
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.mq = mq
		a.closer = append(a.closer, mq.Close)
		producer, err := queue.NewProducer(mq)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closer = append(a.closer, producer.Close)
		routeQueue, events = producer, producer
		a.checks = append(a.checks, handler.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error { return mq.Ping() }})
	} else {
		logger.Info("no queue configured; all leads are routed inline")
	}

	// --- Object storage ---
	var objects port.ObjectStore
	if cfg.S3Bucket != "" {
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		objects = s3
		a.checks = append(a.checks, handler.HealthCheck{Name: "s3", Check: s3.Ping})
	}

	// --- Services ---
	a.router = service.NewRouter(a.store, events, service.RouterConfig{
		FanOutLimit: cfg.FanOutLimit,
		Location:    cfg.Location(),
	}, a.metrics, logger)
	a.leads = service.NewLeadService(a.store, a.router, routeQueue, geocoder, a.metrics, logger)
	a.profiles = service.NewProfileService(a.store, cfg.Location(), logger)
	a.importer = service.NewImporter(a.leads, objects, service.ImporterConfig{
		Concurrency: cfg.ImportConcurrency,
		MaxRows:     cfg.ImportMaxRows,
	}, a.metrics, logger)
	a.auth = service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.IngestAPIKeyHashes, cache.New[bool](5*time.Minute), logger)
	a.sweeper = service.NewSweeper(a.store, a.router, reporter, service.SweeperConfig{
		Schedule:   cfg.SweepSchedule,
		StaleAfter: cfg.StaleAfter,
		Batch:      cfg.SweepBatch,
		Timeout:    time.Minute,
	}, logger)

	if a.mq != nil {
		a.worker = queue.NewWorker(a.mq, a.router, reporter, queue.WorkerConfig{
			Workers:  cfg.QueueWorkers,
			Prefetch: cfg.QueuePrefetch,
			Timeout:  30 * time.Second,
		}, logger)
	}
	return a, nil
}

func serve() error {
	cfg, logger, err := loadConfig()
	defer func() { _ = logger.Sync() }()
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Int("fan_out_limit", cfg.FanOutLimit),
		zap.String("routing_timezone", cfg.RoutingTimezone),
		zap.Bool("sync_ingest", cfg.SyncIngest),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "lead-router")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	defer a.reporter.Flush(2 * time.Second)

	// --- Background routing ---
	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.sweeper.Start(); err != nil {
		return err
	}

	mode := domain.IngestSync
	if !cfg.SyncIngest {
		mode = domain.IngestAsync
	}

	// --- Router ---
	router := handler.NewRouter(handler.Dependencies{
		Leads:          a.leads,
		Profiles:       a.profiles,
		Router:         a.router,
		Importer:       a.importer,
		Auth:           a.auth,
		Metrics:        a.metrics,
		Checks:         a.checks,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.ImportMaxBytes,
		IngestMode:     mode,
		Logger:         logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// --- Graceful shutdown ---
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	a.sweeper.Stop()
	if a.worker != nil {
		a.worker.Wait()
	}

	logger.Info("server stopped")
	return nil
}

func migrate() error {
	cfg, logger, err := loadConfig()
	defer func() { _ = logger.Sync() }()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}

	ctx := context.Background()
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, 2, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func sweepOnce() error {
	cfg, logger, err := loadConfig()
	defer func() { _ = logger.Sync() }()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.sweeper.RunOnce(ctx)
	fmt.Printf("scanned=%d routed=%d failed=%d\n", res.Scanned, res.Routed, res.Failed)
	return nil
}

func printToken(args []string) error {
	if len(args) < 1 {
		return errors.New("token needs a subject")
	}
	cfg, logger, err := loadConfig()
	defer func() { _ = logger.Sync() }()
	if err != nil {
		return err
	}

	role := "operator"
	if len(args) > 1 {
		role = args[1]
	}
	auth := service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL, nil, nil, logger)
	token, err := auth.IssueToken(args[0], "", role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printAPIKey() error {
	key, hash, err := service.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("key:  %s\nhash: %s\n", key, hash)
	return nil
}
