// Command dispatch is the operator CLI for the job dispatcher: a
// worker subcommand that runs the pipeline until signaled to stop,
// and a version subcommand for build identification.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joblift/dispatch/internal/config"
	"github.com/joblift/dispatch/internal/cron"
	"github.com/joblift/dispatch/internal/examplejobs"
	"github.com/joblift/dispatch/internal/handler"
	"github.com/joblift/dispatch/internal/logger"
	"github.com/joblift/dispatch/internal/metrics"
	"github.com/joblift/dispatch/internal/queue"
	"github.com/joblift/dispatch/internal/result"
	"github.com/joblift/dispatch/internal/worker"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "worker":
		runWorker()
	case "version":
		fmt.Println("dispatch " + version)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dispatch <worker|version>")
}

func runWorker() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	dispatchLog := log.WithComponent(logger.ComponentDispatcher).WithSource(logger.LogSourceInternal)
	dispatchLog.Info("dispatcher starting",
		"queues", cfg.Queues,
		"concurrency", cfg.Concurrency,
		"redis_url", cfg.RedisURL)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			dispatchLog.Error("pprof server failed", "error", err)
		}
	}()

	store, err := queue.NewFromURL(context.Background(), cfg.RedisURL)
	if err != nil {
		dispatchLog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			dispatchLog.Error("failed to close redis connection", "error", err)
		}
	}()

	var resultBackend result.Backend
	if cfg.ResultBackendEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			dispatchLog.Error("failed to parse redis url for result backend", "error", err)
			os.Exit(1)
		}
		resultBackend = result.NewRedisBackend(redis.NewClient(opts), cfg.ResultBackendTTLSuccess, cfg.ResultBackendTTLFailure)
		dispatchLog.Info("result backend enabled",
			"success_ttl", cfg.ResultBackendTTLSuccess,
			"failure_ttl", cfg.ResultBackendTTLFailure)
	}

	registry := handler.NewRegistry()
	examplejobs.Register(registry)
	dispatchLog.Info("registered job handlers", "count", registry.Count())

	cronRegistry := cron.New(store.Client())
	if err := cronRegistry.Register(context.Background(), cron.Entry{
		Class: "cleanup_reports",
		Expr:  "0 3 * * *",
		Queue: "reports",
	}, time.Now()); err != nil {
		dispatchLog.Error("failed to register cron entry", "error", err)
	}

	if cfg.CronLockEnabled {
		dispatchLog.Info("cron distributed lock enabled", "ttl", cfg.CronLockTTL)
	}

	executor := worker.NewExecutor(registry, store)
	if resultBackend != nil {
		executor.SetResultBackend(resultBackend)
	}

	dispatcher := worker.NewDispatcher(cfg, store, cronRegistry, executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	dispatcher.Start(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := metrics.GetMetrics()
				dispatchLog.Info("system metrics",
					"jobs_processed", m.TotalJobsProcessed,
					"jobs_completed", m.TotalJobsCompleted,
					"jobs_failed", m.TotalJobsFailed,
					"avg_duration_ms", m.AvgJobDuration.Milliseconds(),
					"worker_utilization", fmt.Sprintf("%.1f%%", m.WorkerUtilization),
					"error_rate", fmt.Sprintf("%.2f%%", m.ErrorRate),
					"uptime", m.Uptime.String())
			}
		}
	}()

	sig := <-sigChan
	dispatchLog.Info("received shutdown signal, stopping", "signal", sig)
	cancel()
	dispatcher.Stop()
	dispatchLog.Info("dispatcher shut down")
}
