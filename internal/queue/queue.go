// Package queue moves task ids from submission to the worker pool.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// Task type names on the wire
const (
	TypeProcess = "ocr:process"
	TypeExtract = "ocr:extract"
)

// Job is one unit of queued work. Data carries the document bytes for OCR
// jobs; extraction jobs read their text from the source task.
type Job struct {
	TaskID string         `json:"taskId"`
	Kind   model.TaskKind `json:"kind"`
	Data   []byte         `json:"data,omitempty"`
}

// Type returns the wire type name for the job's kind.
func (j Job) Type() string {
	if j.Kind == model.TaskKindExtraction {
		return TypeExtract
	}
	return TypeProcess
}

// Handler runs a job. Handlers record failures on the task themselves; a
// returned error is only logged.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// Abandoner is implemented by handlers that want to record jobs a stopping
// dispatcher will never run.
type Abandoner interface {
	Abandon(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Dispatcher enqueues jobs and runs them on a bounded pool of workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
	Start(h Handler) error
	Stop(ctx context.Context) error
}

// Config for every Dispatcher backend
type Config struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	// TaskTimeout bounds how long a backend lets a handler run.
	TaskTimeout time.Duration
}

// New builds the backend named by cfg.QueueBackend.
func New(cfg *config.Config, logger *logging.Logger) (Dispatcher, error) {
	qc := Config{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		TaskTimeout: cfg.TaskTimeout,
	}
	switch cfg.QueueBackend {
	case "", "local":
		return NewLocalPool(qc, logger), nil
	case "asynq":
		return NewAsynq(qc, logger)
	case "redis":
		return NewRedisList(qc, logger)
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}
