/**
 * Asynq dispatcher for the OCR consensus worker
 *
 * OCR and extraction jobs travel through Redis as asynq tasks of type
 * ocr:process and ocr:extract. The core never retries a task: a failed
 * task is recorded on its record and archived by asynq.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

// Asynq dispatches jobs through a Redis-backed asynq queue
type Asynq struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	config Config
	logger *logging.Logger
}

// NewAsynq creates the asynq client and server; Start registers handlers.
func NewAsynq(cfg Config, logger *logging.Logger) (*Asynq, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: asynqLogger{logger},
		},
	)

	return &Asynq{
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
		config: cfg,
		logger: logger,
	}, nil
}

// Enqueue submits job once; a second Enqueue of the same task id is ignored.
func (a *Asynq) Enqueue(ctx context.Context, job Job) error {
	task, err := newAsynqTask(job)
	if err != nil {
		return err
	}
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.Queue(a.config.QueueName),
		asynq.TaskID(job.TaskID),
		asynq.MaxRetry(0),
		// the orchestrator enforces the real deadline; this only stops asynq
		// from cutting a handler off first
		asynq.Timeout(a.config.TaskTimeout+time.Minute),
	)
	if stderrors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.TaskID, err)
	}
	return nil
}

func (a *Asynq) Start(h Handler) error {
	a.logger.Info("Starting queue consumer", "concurrency", a.config.Concurrency, "queue", a.config.QueueName)

	handle := func(ctx context.Context, task *asynq.Task) error {
		job, err := decodeAsynqTask(task)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return h.Handle(ctx, job)
	}
	a.mux.HandleFunc(TypeProcess, handle)
	a.mux.HandleFunc(TypeExtract, handle)

	if err := a.server.Start(a.mux); err != nil {
		return fmt.Errorf("starting asynq server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (a *Asynq) Stop(ctx context.Context) error {
	a.logger.Info("Stopping queue consumer")
	a.server.Shutdown()
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

func newAsynqTask(job Job) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(job.Type(), payload), nil
}

func decodeAsynqTask(task *asynq.Task) (Job, error) {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	if job.TaskID == "" {
		return Job{}, fmt.Errorf("job without task id")
	}
	if job.Type() != task.Type() {
		return Job{}, fmt.Errorf("job kind %s does not match task type %s", job.Kind, task.Type())
	}
	return job, nil
}

// asynqLogger routes asynq's internal logging through our logger.
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{}) { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{}) { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}

var _ Dispatcher = (*Asynq)(nil)
