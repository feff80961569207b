package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"snapspend/internal/alert"
	"snapspend/internal/amqp"
	"snapspend/internal/cli"
	"snapspend/internal/enrich"
	"snapspend/internal/services"
	"snapspend/internal/storage"
)

// app holds everything a command may touch.
type app struct {
	repo        *storage.SQLiteRepository
	expenses    *services.ExpenseService
	collections *services.CollectionService
	evaluator   *alert.Evaluator
	push        *services.PushProcessor
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"add":               {"add -collection NAME -amount 12.50", runAdd},
	"edit":              {"edit -id N -amount 9.99", runEdit},
	"delete":            {"delete -id N", runDelete},
	"collection-add":    {"collection-add -name NAME", runCollectionAdd},
	"collection-update": {"collection-update -name NAME [-budget B] [-icon I] [-color C]", runCollectionUpdate},
	"collection-delete": {"collection-delete -name NAME", runCollectionDelete},
	"share":             {"share -name NAME", runShare},
	"join":              {"join -pin PIN", runJoin},
	"alerts":            {"alerts", runAlerts},
	"list":              {"list [-collection NAME]", runList},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg, appLogger := cli.MustLoadConfig()
	logger := appLogger.Logger

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
		defer gw.Cleanup()
	}

	identity := cli.Identity(cfg)
	evaluator := alert.NewEvaluator(sqliteRepo, alert.NewLogNotifier(logger),
		alert.WithThreshold(cfg.AlertThreshold))

	// Enrichment runs in the daemon when a queue is configured, inline otherwise
	var jobs services.JobQueue
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			amqp.WithMaxAttempts(cfg.JobMaxAttempts))
		if err != nil {
			logger.Warn("AMQP unavailable, enrichment runs inline", "error", err)
		} else {
			defer amqpClient.Close()
			jobs = amqpClient
		}
	}
	if jobs == nil {
		enrichment, err := cli.InitEnrichment(logger, cfg, sqliteRepo, gw.Gateway, identity, nil)
		if err != nil {
			logger.Error("Failed to initialize enrichment", "error", err)
			os.Exit(1)
		}
		jobs = inlineJobs{pipeline: enrichment.Pipeline}
	}

	pushConfig := services.DefaultPushProcessorConfig()
	pushConfig.BatchSize = cfg.PushBatchSize
	pushConfig.MaxRetries = cfg.PushMaxRetries

	a := &app{
		repo:        sqliteRepo,
		expenses:    services.NewExpenseService(sqliteRepo, jobs, evaluator),
		collections: services.NewCollectionService(sqliteRepo, gw.Gateway, identity, evaluator),
		evaluator:   evaluator,
		push:        services.NewPushProcessor(sqliteRepo, gw.Gateway, identity, pushConfig, nil),
	}

	if err := cmd.run(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	// Flush what the command queued; leftovers go out with the daemon
	flushCtx, flushCancel := context.WithTimeout(ctx, 15*time.Second)
	defer flushCancel()
	if n := a.push.ProcessPending(flushCtx); n > 0 {
		logger.Debug("Pushed pending cloud writes", "count", n)
	}
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "usage: snapspend <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

// inlineJobs runs enrichment in-process. Retryable failures are left to
// the daemon's pending sweep.
type inlineJobs struct {
	pipeline *enrich.Pipeline
}

func (j inlineJobs) EnqueueEnrichment(ctx context.Context, expenseID int64) error {
	if err := j.pipeline.Process(ctx, expenseID); err != nil && !enrich.IsRetryable(err) {
		return err
	}
	return nil
}
