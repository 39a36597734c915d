package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const keyPrefix = "ocr:"

// KEYS[1] result, KEYS[2] claim. ARGV: taskID, reuseDone, claim ttl ms.
var claimScript = redis.NewScript(`
if ARGV[2] == '1' then
  local done = redis.call('GET', KEYS[1])
  if done then return {'done', done} end
end
local owner = redis.call('GET', KEYS[2])
if owner then return {'pending', owner} end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
return {'claimed', ARGV[1]}
`)

// KEYS[1] result, KEYS[2] claim. ARGV: taskID, encoded result, result ttl ms.
var completeScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return 1
`)

// KEYS[1] claim. ARGV[1] taskID.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS[1] result. ARGV[1] the undecodable value.
var purgeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Store shared by every worker connected to the same server.
type Redis struct {
	client *redis.Client
	ttls   TTLs
	logger *logging.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, ttls TTLs, logger *logging.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, ttls, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttls TTLs, logger *logging.Logger) *Redis {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Redis{client: client, ttls: ttls.withDefaults(), logger: logger}
}

func resultKey(fp string) string { return keyPrefix + fp }
func claimKey(fp string) string  { return keyPrefix + fp + ":claim" }

func (r *Redis) Claim(ctx context.Context, fp, taskID string, reuseDone bool) (*Entry, bool, error) {
	reuse := "0"
	if reuseDone {
		reuse = "1"
	}
	reply, err := claimScript.Run(ctx, r.client,
		[]string{resultKey(fp), claimKey(fp)},
		taskID, reuse, r.ttls.Claim.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, false, fmt.Errorf("claiming %s: %w", fp, err)
	}
	if len(reply) != 2 {
		return nil, false, errors.NewCacheCorruptedError(fp, fmt.Errorf("unexpected claim reply %q", reply))
	}

	switch reply[0] {
	case "claimed":
		return nil, true, nil
	case "pending":
		return &Entry{Fingerprint: fp, State: StatePending, TaskID: reply[1]}, false, nil
	case "done":
		e, err := r.decodeDone(fp, []byte(reply[1]))
		if err != nil {
			if perr := purgeScript.Run(ctx, r.client, []string{resultKey(fp)}, reply[1]).Err(); perr != nil {
				r.logger.Warn("Failed to purge corrupted cache entry", "fingerprint", fp, "error", perr)
			}
			return nil, false, err
		}
		return e, false, nil
	}
	return nil, false, errors.NewCacheCorruptedError(fp, fmt.Errorf("unexpected claim state %q", reply[0]))
}

func (r *Redis) Complete(ctx context.Context, fp, taskID string, result *model.DocumentResult) error {
	data, err := json.Marshal(storedResult{TaskID: taskID, Result: result})
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := completeScript.Run(ctx, r.client,
		[]string{resultKey(fp), claimKey(fp)},
		taskID, data, r.ttls.Result.Milliseconds(),
	).Err(); err != nil {
		return fmt.Errorf("storing result %s: %w", fp, err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, fp, taskID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{claimKey(fp)}, taskID).Err(); err != nil {
		return fmt.Errorf("releasing %s: %w", fp, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, fp string) (*Entry, error) {
	data, err := r.client.Get(ctx, resultKey(fp)).Bytes()
	switch {
	case err == nil:
		return r.decodeDone(fp, data)
	case err != redis.Nil:
		return nil, fmt.Errorf("reading %s: %w", fp, err)
	}

	owner, err := r.client.Get(ctx, claimKey(fp)).Result()
	switch {
	case err == redis.Nil:
		return nil, errors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("reading claim %s: %w", fp, err)
	}
	return &Entry{Fingerprint: fp, State: StatePending, TaskID: owner}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type storedResult struct {
	TaskID string                `json:"taskId"`
	Result *model.DocumentResult `json:"result"`
}

func (r *Redis) decodeDone(fp string, data []byte) (*Entry, error) {
	var s storedResult
	if err := json.Unmarshal(data, &s); err != nil || s.Result == nil {
		if err == nil {
			err = fmt.Errorf("empty result")
		}
		r.logger.Warn("Corrupted cache entry", "fingerprint", fp, "error", err)
		return nil, errors.NewCacheCorruptedError(fp, err)
	}
	return &Entry{Fingerprint: fp, State: StateDone, TaskID: s.TaskID, Result: s.Result}, nil
}

var _ Store = (*Redis)(nil)
var _ Store = (*Memory)(nil)
