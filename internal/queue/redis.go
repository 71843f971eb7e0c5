// Package queue implements the durable Redis-backed store: the live
// per-queue lists, the per-queue delayed-retry sorted sets, the failed
// list, and the stats reads pollers and operators use. Every key name
// here is part of the wire contract — other processes, and other
// languages, read these keys directly.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/joblift/dispatch/internal/descriptor"
	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the queue operations spec.md names.
type Store struct {
	client *redis.Client
}

// New wraps an already-configured Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromURL parses redisURL and builds a Store with a connection pool
// tuned for a mix of blocking pollers and short-lived producer/worker
// commands, then verifies the connection with a Ping.
func NewFromURL(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.ConnMaxIdleTime = 10 * time.Minute
	opts.PoolTimeout = 5 * time.Second

	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client), nil
}

// Client returns the underlying Redis client, for components (cron
// registry, distributed lock, result backend) that need direct access
// to keys outside the queue store's own schema.
func (s *Store) Client() *redis.Client {
	return s.client
}

func liveKey(q string) string       { return fmt.Sprintf("queue:%s", q) }
func scheduledKey(q string) string  { return fmt.Sprintf("schedule:%s", q) }
func processingKey(q string) string { return fmt.Sprintf("processing:%s", q) }

const failedKey = "failed"

// Push appends desc at the head of the live queue, so a blocking tail
// pop (Pop) sees it last among same-priority entries. Returns the new
// list length.
func (s *Store) Push(ctx context.Context, q string, desc descriptor.Descriptor) (int64, error) {
	raw, err := desc.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := s.client.LPush(ctx, liveKey(q), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("push %s: %w", q, err)
	}
	return n, nil
}

// PushPriority appends desc at the tail of the live queue, so the next
// blocking tail pop (Pop) retrieves it ahead of other tail entries.
func (s *Store) PushPriority(ctx context.Context, q string, desc descriptor.Descriptor) (int64, error) {
	raw, err := desc.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := s.client.RPush(ctx, liveKey(q), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("push_priority %s: %w", q, err)
	}
	return n, nil
}

// Pop performs a blocking tail pop of queue q with a bounded timeout.
// Returns (desc, true, nil) on success, (zero, false, nil) on timeout.
func (s *Store) Pop(ctx context.Context, q string, timeout time.Duration) (descriptor.Descriptor, bool, error) {
	res, err := s.client.BRPop(ctx, timeout, liveKey(q)).Result()
	if err == redis.Nil {
		return descriptor.Descriptor{}, false, nil
	}
	if err != nil {
		return descriptor.Descriptor{}, false, fmt.Errorf("pop %s: %w", q, err)
	}
	// BRPop returns [key, value]; we asked for exactly one key.
	if len(res) != 2 {
		return descriptor.Descriptor{}, false, fmt.Errorf("pop %s: unexpected reply shape", q)
	}
	desc, err := descriptor.Unmarshal([]byte(res[1]))
	if err != nil {
		return descriptor.Descriptor{}, false, fmt.Errorf("pop %s: %w", q, err)
	}
	return desc, true, nil
}

// Schedule adds desc to the delayed-retry sorted set for q, due at
// unix-seconds at. The caller is responsible for setting desc's
// priority_retry flag, if any, before calling Schedule.
func (s *Store) Schedule(ctx context.Context, q string, desc descriptor.Descriptor, at float64) error {
	raw, err := desc.Marshal()
	if err != nil {
		return err
	}
	err = s.client.ZAdd(ctx, scheduledKey(q), redis.Z{Score: at, Member: raw}).Err()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", q, err)
	}
	return nil
}

// PromoteDue moves every member of schedule:q with score <= now into
// queue:q, honoring each member's priority_retry flag for which end it
// lands on, and stripping the flag before the push. It removes each
// member before pushing it: a crash between the two steps may duplicate
// a job, but never loses one.
func (s *Store) PromoteDue(ctx context.Context, q string, now float64) (int, error) {
	members, err := s.client.ZRangeByScore(ctx, scheduledKey(q), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote_due %s: zrangebyscore: %w", q, err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := s.client.ZRem(ctx, scheduledKey(q), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote_due %s: zrem: %w", q, err)
		}
		if removed == 0 {
			// Another promoter already claimed this member.
			continue
		}

		desc, err := descriptor.Unmarshal([]byte(member))
		if err != nil {
			return promoted, fmt.Errorf("promote_due %s: %w", q, err)
		}
		priority := desc.PriorityRetry
		desc.PriorityRetry = false

		if priority {
			if _, err := s.PushPriority(ctx, q, desc); err != nil {
				return promoted, err
			}
		} else {
			if _, err := s.Push(ctx, q, desc); err != nil {
				return promoted, err
			}
		}
		promoted++
	}
	return promoted, nil
}

// Stats is the snapshot returned by Stats.
type Stats struct {
	Size       int64
	Scheduled  int64
	Processing int64
}

// Stats reads the current size of the live queue, the scheduled set,
// and the optional processing counter for q.
func (s *Store) Stats(ctx context.Context, q string) (Stats, error) {
	size, err := s.client.LLen(ctx, liveKey(q)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: llen: %w", q, err)
	}
	scheduled, err := s.client.ZCard(ctx, scheduledKey(q)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: zcard: %w", q, err)
	}
	processingStr, err := s.client.Get(ctx, processingKey(q)).Result()
	var processing int64
	if err == nil {
		fmt.Sscanf(processingStr, "%d", &processing)
	} else if err != redis.Nil {
		return Stats{}, fmt.Errorf("stats %s: get processing: %w", q, err)
	}
	return Stats{Size: size, Scheduled: scheduled, Processing: processing}, nil
}

// IncrProcessing bumps the optional processing:q counter on handler
// entry. Nothing in the core pipeline depends on its value; it exists
// for operator visibility only.
func (s *Store) IncrProcessing(ctx context.Context, q string) {
	s.client.Incr(ctx, processingKey(q))
}

// DecrProcessing undoes IncrProcessing on handler exit.
func (s *Store) DecrProcessing(ctx context.Context, q string) {
	s.client.Decr(ctx, processingKey(q))
}

// StoreFailed appends a failed-job record to the head of the failed
// list.
func (s *Store) StoreFailed(ctx context.Context, rec descriptor.FailedRecord) error {
	raw, err := rec.Marshal()
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, failedKey, raw).Err(); err != nil {
		return fmt.Errorf("store_failed: %w", err)
	}
	return nil
}

// FailedJobs returns every record currently in the failed list, newest
// first.
func (s *Store) FailedJobs(ctx context.Context) ([]descriptor.FailedRecord, error) {
	raws, err := s.client.LRange(ctx, failedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed_jobs: lrange: %w", err)
	}
	recs := make([]descriptor.FailedRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := descriptor.UnmarshalFailedRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed_jobs: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
