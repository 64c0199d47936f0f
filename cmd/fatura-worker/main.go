package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fatura/internal/amqp"
	"fatura/internal/config"
	"fatura/internal/core"
	"fatura/internal/log"
	"fatura/internal/services"
	"fatura/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("Starting fatura-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ledger := services.NewLedgerService(repo)
	reconcile := services.NewReconcileService(repo, ledger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The reconcile loop runs a startup cycle first, closing any gap
	// accumulated while the worker was down.
	loop := services.NewReconcileLoop(reconcile, services.ReconcileLoopConfig{
		Interval: cfg.ReconcileInterval,
	})
	if err := loop.Start(ctx); err != nil {
		logger.Error("Failed to start reconcile loop", "error", err)
		os.Exit(1)
	}

	go func() {
		err := amqpClient.ConsumeLoop(ctx, func(ctx context.Context, msg *amqp.PeriodRecomputeMessage) error {
			period, err := core.ParsePeriod(msg.Period)
			if err != nil {
				// A malformed period never becomes valid on redelivery.
				logger.ErrorContext(ctx, "Dropping message with invalid period",
					"period", msg.Period, "error", err)
				return nil
			}
			if _, _, err := ledger.UpsertPeriod(ctx, msg.AccountID, period); err != nil {
				return err
			}
			_, err = ledger.RecomputeTotal(ctx, msg.AccountID, period)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	if err := loop.Stop(shutdownCtx); err != nil {
		logger.Warn("Reconcile loop did not stop cleanly", "error", err)
	}
	cancel()

	logger.Info("Worker shutdown complete")
}
