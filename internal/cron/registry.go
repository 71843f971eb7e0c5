package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cron registration: which handler class fires, and on
// what schedule.
type Entry struct {
	Class        string  `json:"class"`
	Expr         string  `json:"cron"`
	Queue        string  `json:"queue"`
	RegisteredAt float64 `json:"registered_at"`
}

const (
	jobsKey     = "cron:jobs"
	scheduleKey = "cron:schedule"
)

func nextRunKey(class string) string { return fmt.Sprintf("cron:next_run:%s", class) }

// Registry persists cron entries and their next-fire times to Redis.
// Registration is idempotent per class: re-registering an already
// scheduled class leaves its next-run time untouched.
type Registry struct {
	client *redis.Client
}

// New wraps a Redis client.
func New(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Register writes entry to cron:jobs and, only if cron:next_run:<class>
// does not already exist, computes the next run time from entry.Expr
// and schedules it. RegisteredAt is preserved across re-registration:
// if entry doesn't set it and a prior registration for the same class
// already recorded one, the original is kept rather than overwritten.
func (r *Registry) Register(ctx context.Context, entry Entry, now time.Time) error {
	if entry.RegisteredAt == 0 {
		if prevRaw, err := r.client.HGet(ctx, jobsKey, entry.Class).Result(); err == nil {
			var prev Entry
			if json.Unmarshal([]byte(prevRaw), &prev) == nil && prev.RegisteredAt != 0 {
				entry.RegisteredAt = prev.RegisteredAt
			}
		}
		if entry.RegisteredAt == 0 {
			entry.RegisteredAt = float64(now.UnixNano()) / 1e9
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("register %s: %w", entry.Class, err)
	}
	if err := r.client.HSet(ctx, jobsKey, entry.Class, raw).Err(); err != nil {
		return fmt.Errorf("register %s: hset: %w", entry.Class, err)
	}

	exists, err := r.client.Exists(ctx, nextRunKey(entry.Class)).Result()
	if err != nil {
		return fmt.Errorf("register %s: exists: %w", entry.Class, err)
	}
	if exists > 0 {
		return nil
	}

	next, err := NextRun(entry.Expr, now)
	if err != nil {
		return fmt.Errorf("register %s: %w", entry.Class, err)
	}
	return r.ScheduleJob(ctx, entry.Class, next)
}

// ScheduleJob sets cron:next_run:<class> and adds class to
// cron:schedule scored by t.
func (r *Registry) ScheduleJob(ctx context.Context, class string, t time.Time) error {
	score := float64(t.UnixNano()) / 1e9
	pipe := r.client.Pipeline()
	pipe.Set(ctx, nextRunKey(class), strconv.FormatFloat(score, 'f', -1, 64), 0)
	pipe.ZAdd(ctx, scheduleKey, redis.Z{Score: score, Member: class})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule_job %s: %w", class, err)
	}
	return nil
}

// DueJobs returns every entry whose scheduled class is due at or
// before now, removing each returned class from cron:schedule.
func (r *Registry) DueJobs(ctx context.Context, now time.Time) ([]Entry, error) {
	score := float64(now.UnixNano()) / 1e9
	classes, err := r.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("due_jobs: zrangebyscore: %w", err)
	}

	entries := make([]Entry, 0, len(classes))
	for _, class := range classes {
		removed, err := r.client.ZRem(ctx, scheduleKey, class).Result()
		if err != nil {
			return entries, fmt.Errorf("due_jobs: zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		raw, err := r.client.HGet(ctx, jobsKey, class).Result()
		if err != nil {
			return entries, fmt.Errorf("due_jobs: hget %s: %w", class, err)
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return entries, fmt.Errorf("due_jobs: unmarshal %s: %w", class, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Entries returns every registered cron entry, for operator listing.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	raws, err := r.client.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("entries: hgetall: %w", err)
	}
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("entries: unmarshal: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearAll deletes cron:jobs, cron:schedule, and every
// cron:next_run:<class> key.
func (r *Registry) ClearAll(ctx context.Context) error {
	classes, err := r.client.HKeys(ctx, jobsKey).Result()
	if err != nil {
		return fmt.Errorf("clear_all: hkeys: %w", err)
	}
	keys := make([]string, 0, len(classes)+2)
	keys = append(keys, jobsKey, scheduleKey)
	for _, class := range classes {
		keys = append(keys, nextRunKey(class))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear_all: del: %w", err)
	}
	return nil
}
