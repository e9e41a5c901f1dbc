package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"genqueue/internal/adapter/repo"
	"genqueue/internal/balance"
	"genqueue/internal/domain"
	"genqueue/internal/http/handlers"
	httpapi "genqueue/internal/http/httpapi"
	"genqueue/internal/imagegen"
	"genqueue/internal/infra"
	"genqueue/internal/jobstore"
	"genqueue/internal/middleware"
	"genqueue/internal/progress"
	"genqueue/internal/providers/genapi"
	"genqueue/internal/scheduler"
)

const archiveTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := infra.NewTracing(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := scheduler.NewMetrics(registry)

	store := jobstore.New(jobstore.Options{
		Capacity: cfg.QueueCapacity,
		Logger:   logger.With().Str("component", "jobstore").Logger(),
	})

	client, err := genapi.NewClient(genapi.Options{
		APIKey:            cfg.GenAPIKey,
		BaseURL:           cfg.GenAPIBaseURL,
		GeneratePath:      cfg.GenAPIGeneratePath,
		EditPath:          cfg.GenAPIEditPath,
		TurboGeneratePath: cfg.GenAPITurboGeneratePath,
		TurboEditPath:     cfg.GenAPITurboEditPath,
		BalancePath:       cfg.GenAPIBalancePath,
		Logger:            &logger,
		RequestTimeout:    cfg.GenAPITimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("generation client setup failed")
	}
	if cfg.GenAPIKey == "" {
		logger.Warn().Msg("GEN_API_KEY is empty; every job will fail with auth")
	}

	adapter := imagegen.NewAdapter(client, imagegen.Options{
		Timeout: cfg.GenAPITimeout,
		RPS:     cfg.GenAPIRPS,
		Tracer:  tracing.Tracer(),
		Logger:  logger,
	})
	tracker := balance.NewTracker(client, balance.Options{Logger: logger})
	estimator := progress.New(progress.Options{Interval: cfg.ProgressTick, Logger: logger})

	var (
		pool    *pgxpool.Pool
		history *repo.JobHistoryPG
	)
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		history = repo.NewJobHistory(infra.NewSQLRunner(pool, logger))
		if err := history.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare job history")
		}
		logger.Info().Msg("job history archive enabled")
	}

	sched := scheduler.New(store, adapter, estimator, scheduler.Options{
		Concurrency:    cfg.MaxConcurrentJobs,
		ResyncInterval: cfg.SchedulerResync,
		Logger:         logger,
		Metrics:        metrics,
		OnCompleted:    tracker.Signal,
		OnTerminal:     archiver(history, logger),
	})
	sched.Start(ctx)

	app := handlers.NewApp(store, domain.NewRequestValidator(domain.Limits{
		MaxPixels: cfg.MaxPixels,
		MaxImages: cfg.MaxImagesPerJob,
	}), logger)
	app.Balance = tracker
	if history != nil {
		app.History = history
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitGate:     middleware.NewGate(cfg.SubmitRateLimitPerMin, time.Minute),
		Metrics:        registry,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Int("queue_capacity", cfg.QueueCapacity).
			Int("concurrency", cfg.MaxConcurrentJobs).
			Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GenAPITimeout+cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("in_flight", sched.InFlight()).Msg("scheduler did not drain")
	}
	tracker.Wait()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info().Msg("server stopped")
}

// archiver writes terminal jobs to the history table. Failures are logged and
// never affect the in-memory record.
func archiver(history *repo.JobHistoryPG, logger infra.Logger) func(domain.JobRecord) {
	if history == nil {
		return nil
	}
	return func(job domain.JobRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := history.SaveTerminal(ctx, job); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("history: archive failed")
		}
	}
}
