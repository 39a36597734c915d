// Package app wires the worker's components from a Config.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/cache"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/engine"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/ensemble"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/extraction"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/llm"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/orchestrator"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/queue"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/special"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/storage"
)

// App is a fully wired worker.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Queue        queue.Dispatcher
	Engines      []string

	closers []io.Closer
	logger  *logging.Logger
}

// Build connects to every configured backend. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	members, err := engine.Build(ctx, cfg, logger.With("stage", "engines"))
	if err != nil {
		return nil, err
	}
	detector := special.New(special.Config{
		Stamps:        cfg.DetectStamps,
		Handwriting:   cfg.DetectHandwriting,
		Tables:        cfg.DetectTables,
		Strikethrough: cfg.DetectStrikethrough,
	}, logging.NewLogger("special"))
	ens := ensemble.New(members, ensemble.Config{
		EngineTimeout:       cfg.EngineTimeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		DefaultLanguage:     cfg.DefaultLanguage,
	}, detector, logging.NewLogger("ensemble"))
	a.Engines = ens.Engines()

	pre := preprocess.New(preprocess.Config{
		MaxPages:         cfg.MaxPages,
		DPI:              cfg.RenderDPI,
		MinDimension:     cfg.MinImageDimension,
		MaxDimension:     cfg.MaxImageDimension,
		CheckOrientation: cfg.CheckOrientation,
	}, logging.NewLogger("preprocess"))

	completer, err := llm.New(ctx, cfg, logging.NewLogger("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if c, ok := completer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	extractor, err := extraction.New(extraction.Config{
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		DefaultLanguage: cfg.DefaultLanguage,
	}, completer, logging.NewLogger("extraction"))
	if err != nil {
		return nil, err
	}
	fields, err := extraction.NewRegistry(cfg.FieldsFile, logging.NewLogger("fields"))
	if err != nil {
		return nil, err
	}

	tasks, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task store: %w", err)
	}
	a.closers = append(a.closers, tasks)

	results, err := cache.New(ctx, cfg, logging.NewLogger("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize result cache: %w", err)
	}
	a.closers = append(a.closers, results)

	a.Queue, err = queue.New(cfg, logging.NewLogger("queue"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		TaskTimeout:     cfg.TaskTimeout,
		MaxFileSize:     cfg.MaxFileSize,
		PageConcurrency: cfg.PageConcurrency,
	}, orchestrator.Deps{
		Tasks:        tasks,
		Cache:        results,
		Queue:        a.Queue,
		Preprocessor: pre,
		Recognizer:   ens,
		Extractor:    extractor,
		Fields:       fields,
	}, logging.NewLogger("orchestrator"))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Shutdown stops the queue, waiting up to timeout for running tasks, then
// closes the stores.
func (a *App) Shutdown(timeout time.Duration) error {
	var firstErr error
	if a.Queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Queue.Stop(ctx); err != nil {
			a.logger.Error("Error stopping queue", "error", err)
			firstErr = err
		}
	}
	if err := a.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) closeAll() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("Error closing component", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}
