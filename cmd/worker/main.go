/**
 * OCR Consensus Worker - Main Entry Point
 *
 * Go worker that turns scanned business documents into consensus text and
 * structured fields.
 *
 * Architecture:
 * - Asynq, Redis list or in-process queue feeding a bounded worker pool
 * - Preprocessing: PDF splitting (MuPDF), orientation and resolution normalization
 * - Ensemble of OCR engines voting per page, with special-item detection
 * - Field extraction by keyword/regex with an LLM fallback
 * - PostgreSQL task records and a fingerprint-keyed result cache
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/app"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := logging.NewLogger("worker")

	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		logger.Info(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("OCR consensus worker starting",
		"queue_backend", cfg.QueueBackend,
		"cache_backend", cfg.CacheBackend,
		"postgres", cfg.DatabaseURL != "",
		"workers", cfg.WorkerConcurrency,
		"task_timeout", cfg.TaskTimeout,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	worker, err := app.Build(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("Failed to initialize worker", "error", err)
		os.Exit(1)
	}

	if err := worker.Orchestrator.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		_ = worker.Shutdown(shutdownTimeout)
		os.Exit(1)
	}

	logger.Info("Worker is ready",
		"queue", cfg.QueueName,
		"engines", worker.Engines,
		"llm_provider", cfg.LLMProvider,
		"page_concurrency", cfg.PageConcurrency,
	)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	if err := worker.Shutdown(shutdownTimeout); err != nil {
		logger.Error("Shutdown finished with errors", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
