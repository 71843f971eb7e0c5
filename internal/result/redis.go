package result

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on top of Redis: a hash per job id
// plus a pub/sub channel so WaitForResult doesn't have to poll.
type RedisBackend struct {
	client     *redis.Client
	successTTL time.Duration
	failureTTL time.Duration
}

// NewRedisBackend wraps client, using successTTL/failureTTL to expire
// recorded results according to their outcome.
func NewRedisBackend(client *redis.Client, successTTL, failureTTL time.Duration) *RedisBackend {
	return &RedisBackend{client: client, successTTL: successTTL, failureTTL: failureTTL}
}

func resultKey(jobID string) string     { return fmt.Sprintf("result:%s", jobID) }
func notifyChannel(jobID string) string { return fmt.Sprintf("result:notify:%s", jobID) }

func (r *RedisBackend) StoreResult(ctx context.Context, res *Result) error {
	data := map[string]any{
		"status":       string(res.Status),
		"completed_at": res.CompletedAt.Format(time.RFC3339),
		"duration_ms":  res.Duration.Milliseconds(),
	}
	if res.IsSuccess() && len(res.Output) > 0 {
		data["output"] = string(res.Output)
	}
	if res.IsFailed() && res.Error != "" {
		data["error"] = res.Error
	}

	ttl := r.successTTL
	if res.IsFailed() {
		ttl = r.failureTTL
	}

	key := resultKey(res.JobID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	pipe.Publish(ctx, notifyChannel(res.JobID), "ready")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store result %s: %w", res.JobID, err)
	}
	return nil
}

func (r *RedisBackend) GetResult(ctx context.Context, jobID string) (*Result, error) {
	data, err := r.client.HGetAll(ctx, resultKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", jobID, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	res := &Result{JobID: jobID}
	if status, ok := data["status"]; ok {
		res.Status = Status(status)
	}
	if completedAt, ok := data["completed_at"]; ok {
		if t, err := time.Parse(time.RFC3339, completedAt); err == nil {
			res.CompletedAt = t
		}
	}
	if durationMs, ok := data["duration_ms"]; ok {
		if ms, err := strconv.ParseInt(durationMs, 10, 64); err == nil {
			res.Duration = time.Duration(ms) * time.Millisecond
		}
	}
	if output, ok := data["output"]; ok {
		res.Output = json.RawMessage(output)
	}
	if errMsg, ok := data["error"]; ok {
		res.Error = errMsg
	}
	return res, nil
}

func (r *RedisBackend) WaitForResult(ctx context.Context, jobID string, timeout time.Duration) (*Result, error) {
	if res, err := r.GetResult(ctx, jobID); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := r.client.Subscribe(waitCtx, notifyChannel(jobID))
	defer pubsub.Close()

	select {
	case <-waitCtx.Done():
		return r.GetResult(ctx, jobID)
	case msg := <-pubsub.Channel():
		if msg != nil && msg.Payload == "ready" {
			return r.GetResult(ctx, jobID)
		}
	}
	return nil, nil
}

func (r *RedisBackend) DeleteResult(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, resultKey(jobID)).Err(); err != nil {
		return fmt.Errorf("delete result %s: %w", jobID, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
