/**
 * Direct Redis list dispatcher for the OCR consensus worker
 *
 * Jobs are JSON documents pushed with LPUSH and popped with BRPOP, so
 * producers in other languages can submit work with plain list commands.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

var errNoJobs = stderrors.New("no jobs available")

// UnmarshalJSON accepts data as a base64 string or as a Node.js Buffer
// object ({"type":"Buffer","data":[...]}).
func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := &struct {
		Data interface{} `json:"data,omitempty"`
		*alias
	}{
		alias: (*alias)(j),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	switch v := aux.Data.(type) {
	case nil:
		j.Data = nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 data: %w", err)
		}
		j.Data = decoded
	case map[string]interface{}:
		if t, ok := v["type"].(string); !ok || t != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		arr, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		j.Data = make([]byte, len(arr))
		for i, val := range arr {
			b, ok := val.(float64)
			if !ok {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			j.Data[i] = byte(b)
		}
	default:
		return fmt.Errorf("data must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// RedisList dispatches jobs through a single Redis list
type RedisList struct {
	client *redis.Client
	config Config
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisList connects to Redis and verifies the connection.
func NewRedisList(cfg Config, logger *logging.Logger) (*RedisList, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisListWithClient(client, cfg, logger), nil
}

// NewRedisListWithClient wraps an existing client.
func NewRedisListWithClient(client *redis.Client, cfg Config, logger *logging.Logger) *RedisList {
	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:tasks"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisList{client: client, config: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

func (c *RedisList) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := c.client.LPush(ctx, c.config.QueueName, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.TaskID, err)
	}
	return nil
}

func (c *RedisList) Start(h Handler) error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i, h)
	}
	return nil
}

// Stop cancels the workers and waits for running jobs until ctx expires.
func (c *RedisList) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
	return c.client.Close()
}

func (c *RedisList) worker(id int, h Handler) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		job, err := c.next()
		if err != nil {
			if err != errNoJobs && c.ctx.Err() == nil {
				c.logger.Warn("Worker error", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if err := h.Handle(c.ctx, job); err != nil {
			c.logger.Warn("Job failed", "worker", id, "task_id", job.TaskID, "type", job.Type(), "error", err)
		}
	}
}

// next blocks for up to 5 seconds waiting for a job.
func (c *RedisList) next() (Job, error) {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return Job{}, errNoJobs
		}
		return Job{}, fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return Job{}, fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, err
	}
	if job.TaskID == "" {
		return Job{}, fmt.Errorf("job without task id")
	}
	return job, nil
}

var _ Dispatcher = (*RedisList)(nil)
