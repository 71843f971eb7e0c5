package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t, "REDIS_URL", "QUEUES", "CONCURRENCY", "QUEUE_CONCURRENCY")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("unexpected default redis url: %s", cfg.RedisURL)
	}
	if len(cfg.Queues) != 1 || cfg.Queues[0] != "default" {
		t.Fatalf("expected default queue list, got %v", cfg.Queues)
	}
	if cfg.Concurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.Concurrency)
	}
}

func TestLoadConfig_QueueConcurrencyOverride(t *testing.T) {
	clearEnv(t, "QUEUES", "CONCURRENCY", "QUEUE_CONCURRENCY")
	os.Setenv("QUEUES", "default,reports")
	os.Setenv("CONCURRENCY", "5")
	os.Setenv("QUEUE_CONCURRENCY", "reports=2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ConcurrencyFor("reports") != 2 {
		t.Fatalf("expected reports override to be 2, got %d", cfg.ConcurrencyFor("reports"))
	}
	if cfg.ConcurrencyFor("default") != 5 {
		t.Fatalf("expected default queue to fall back to 5, got %d", cfg.ConcurrencyFor("default"))
	}
}

func TestLoadConfig_EmptyQueuesFallsBackToDefault(t *testing.T) {
	clearEnv(t, "QUEUES")
	os.Setenv("QUEUES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	// Empty QUEUES falls back to the default list, not an error.
	if len(cfg.Queues) == 0 {
		t.Fatal("expected a non-empty default queue list")
	}
}

func TestLoadConfig_RejectsZeroConcurrency(t *testing.T) {
	clearEnv(t, "CONCURRENCY")
	os.Setenv("CONCURRENCY", "0")
	t.Cleanup(func() { os.Unsetenv("CONCURRENCY") })

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error for CONCURRENCY=0")
	}
}
