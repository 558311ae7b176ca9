package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"budgeit/internal/amqp"
	"budgeit/internal/config"
	"budgeit/internal/log"
	googlesheets "budgeit/internal/sheets/google"
	"budgeit/internal/storage"
	"budgeit/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(cfg.LogLevel)

	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, log.WithComponent(logger, "storage"), storage.Options{
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.SQLiteDBPath,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxOpenConns:   cfg.MaxOpenConns,
		MaxIdleConns:   cfg.MaxIdleConns,
		ConnMaxLife:    cfg.ConnMaxLife,
	})
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	appender, err := googlesheets.New(ctx, googlesheets.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
	})
	if err != nil {
		logger.Error("Failed to create sheets appender", "error", err)
		os.Exit(1)
	}

	w := worker.New(db.Store, appender, log.WithComponent(logger, "worker"))

	logger.Info("Export worker starting",
		"backend", db.Backend,
		"queue", cfg.AMQPQueue,
		"sheet", cfg.GoogleSheetName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Consume(gctx, w.HandleEnvelope)
	})
	g.Go(func() error {
		return w.Run(gctx, cfg.ExportInterval, cfg.ExportBatchSize)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
