package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"snapspend/internal/alert"
	"snapspend/internal/amqp"
	"snapspend/internal/cache"
	"snapspend/internal/cli"
	"snapspend/internal/metrics"
	"snapspend/internal/services"
	snapsync "snapspend/internal/sync"
	"snapspend/internal/worker"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 10 * time.Minute
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, appLogger := cli.MustLoadConfig()
	logger := appLogger.Logger

	logger.Info("Starting snapspend-sync", "cloud_backend", cfg.CloudBackend)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	gw, err := cli.InitGateway(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize cloud gateway", "error", err)
		os.Exit(1)
	}
	if gw.Cleanup != nil {
		defer func() {
			if err := gw.Cleanup(); err != nil {
				logger.Warn("Cloud gateway cleanup failed", "error", err)
			}
		}()
	}

	identity := cli.Identity(cfg)
	if !cfg.HasIdentity() {
		logger.Warn("USER_ID/USER_NAME not set, pushes to shared collections are attributed to nobody")
	}

	m := metrics.New()

	evaluator := alert.NewEvaluator(sqliteRepo, alert.NewLogNotifier(logger),
		alert.WithThreshold(cfg.AlertThreshold),
		alert.WithMetrics(m))

	reconciler := snapsync.NewReconciler(sqliteRepo, evaluator, m)
	coordinator := snapsync.NewCoordinator(sqliteRepo, gw.Gateway, reconciler, m)

	enrichment, err := cli.InitEnrichment(logger, cfg, sqliteRepo, gw.Gateway, identity, m)
	if err != nil {
		logger.Error("Failed to initialize enrichment", "error", err)
		os.Exit(1)
	}
	cacheManager := cache.NewManager()
	enrichment.RegisterCaches(cacheManager)

	jobWorker := worker.NewJobWorker(sqliteRepo, enrichment.Pipeline, evaluator, cfg.PushBatchSize)

	// Initialize AMQP client for consuming jobs (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			amqp.WithMaxAttempts(cfg.JobMaxAttempts))
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		logger.Info("AMQP client initialized", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - enrichment runs from the periodic sweep only")
	}

	pushConfig := services.DefaultPushProcessorConfig()
	pushConfig.PollInterval = cfg.PushPollInterval
	pushConfig.BatchSize = cfg.PushBatchSize
	pushConfig.MaxRetries = cfg.PushMaxRetries
	pushProcessor := services.NewPushProcessor(sqliteRepo, gw.Gateway, identity, pushConfig, m)

	scheduler := worker.NewScheduler()
	scheduler.EnqueueUniquePeriodic("budget-check", cfg.AlertInterval, func(ctx context.Context) error {
		if amqpClient != nil {
			err := amqpClient.EnqueueBudgetCheck(ctx)
			if err == nil {
				return nil
			}
			logger.Warn("Failed to enqueue budget check, running inline", "error", err)
		}
		return evaluator.Check(ctx)
	})
	scheduler.EnqueueUniquePeriodic("enrichment-sweep", cfg.EnrichSweep, jobWorker.ProcessPendingEnrichment)

	// On startup, process any enrichment that might have been missed
	logger.Info("Performing startup enrichment check...")
	if err := jobWorker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup enrichment check", "error", err)
		// Don't exit - continue with normal operation
	}

	if err := pushProcessor.Start(ctx); err != nil {
		logger.Error("Failed to start push processor", "error", err)
		os.Exit(1)
	}
	cacheManager.StartCleanup(ctx, cacheCleanupInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coordinator.Run(gctx)
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.Consume(gctx, jobWorker.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, m)
		g.Go(func() error {
			logger.Info("Metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Sync daemon stopped with error", "error", err)
	}

	// Graceful shutdown
	logger.Info("Shutting down snapspend-sync...")
	cli.WaitWithTimeout(logger, shutdownTimeout, func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := pushProcessor.Stop(shutdownCtx); err != nil {
			logger.Warn("Push processor stop failed", "error", err)
		}
		cacheManager.Stop()
	})
}

func metricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
