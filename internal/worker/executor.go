// Package worker implements the dispatcher: per-queue pollers, bounded
// worker pools, the scheduled- and cron-promoter tasks, and the
// execution wrappers that run handlers and hand failures to the retry
// state machine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joblift/dispatch/internal/descriptor"
	dispatcherrors "github.com/joblift/dispatch/internal/errors"
	"github.com/joblift/dispatch/internal/handler"
	"github.com/joblift/dispatch/internal/logger"
	"github.com/joblift/dispatch/internal/metrics"
	"github.com/joblift/dispatch/internal/result"
	"github.com/joblift/dispatch/internal/retry"
)

// Queue is the subset of the queue store the executor needs.
type Queue interface {
	StoreFailed(ctx context.Context, rec descriptor.FailedRecord) error
	Schedule(ctx context.Context, q string, desc descriptor.Descriptor, at float64) error
	IncrProcessing(ctx context.Context, q string)
	DecrProcessing(ctx context.Context, q string)
}

// Executor resolves a handler for a descriptor and runs it under a
// timeout, recovering panics and delegating any failure to the retry
// state machine.
type Executor struct {
	registry      *handler.Registry
	queue         Queue
	resultBackend result.Backend
	log           logger.Logger
}

// NewExecutor builds an executor over registry and queue.
func NewExecutor(registry *handler.Registry, queue Queue) *Executor {
	return &Executor{registry: registry, queue: queue, log: logger.Default()}
}

// SetResultBackend attaches an optional result backend. When set, any
// descriptor carrying a non-empty ID has its outcome recorded.
func (e *Executor) SetResultBackend(backend result.Backend) {
	e.resultBackend = backend
}

// SetLogger overrides the logger used for execution diagnostics.
func (e *Executor) SetLogger(log logger.Logger) {
	e.log = log
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ExecuteJob runs execute_job for desc on queue q: resolves the
// handler, invokes it under its configured timeout with the
// trailing enqueued_at argument, recovers panics, and on any failure
// delegates to the retry state machine.
func (e *Executor) ExecuteJob(ctx context.Context, q string, desc descriptor.Descriptor) {
	fn, meta, err := e.registry.Resolve(desc.Class)
	if err != nil {
		rec := descriptor.NewFailedRecord(desc, unixNow(), err.Error(), nil)
		if storeErr := e.queue.StoreFailed(ctx, rec); storeErr != nil {
			e.log.Error("failed to record unresolvable job", "class", desc.Class, "error", storeErr)
		}
		return
	}

	e.queue.IncrProcessing(ctx, q)
	defer e.queue.DecrProcessing(ctx, q)

	metrics.Default().RecordJobStarted(q)
	start := time.Now()

	args := append(append([]json.RawMessage{}, desc.Args...), enqueuedAtArg(desc.EnqueuedAt))

	execErr := e.runWithTimeout(ctx, fn, args, meta.Timeout)
	duration := time.Since(start)

	if execErr != nil {
		metrics.Default().RecordJobFailed(q, duration)
		e.log.Warn("job failed", "class", desc.Class, "queue", q, "retry_count", desc.RetryCount, "error", execErr)
		if desc.RetryCount >= meta.MaxRetries {
			e.storeResult(ctx, desc.ID, result.StatusFailed, nil, execErr.Error(), duration)
		}

		backtrace := panicBacktrace(execErr)
		if retryErr := retry.Handle(ctx, e.queue, unixNow, q, desc, meta, execErr, backtrace); retryErr != nil {
			e.log.Error("retry state machine failed", "class", desc.Class, "error", retryErr)
		}
		return
	}

	metrics.Default().RecordJobCompleted(q, duration)
	e.log.Info("job completed", "class", desc.Class, "queue", q, "duration_ms", duration.Milliseconds())
	e.storeResult(ctx, desc.ID, result.StatusSuccess, nil, "", duration)
}

// runWithTimeout invokes fn with args, bounding it by timeout and
// recovering any panic as an error. A non-positive timeout is treated
// as an already-expired deadline: the job fails as a timeout without
// ever running, rather than running unbounded.
func (e *Executor) runWithTimeout(ctx context.Context, fn handler.Func, args []json.RawMessage, timeout time.Duration) (err error) {
	if timeout <= 0 {
		return fmt.Errorf("job timed out: %w", context.DeadlineExceeded)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			// recover only stops a panic when called directly by the
			// deferred function, so it is not routed through a helper.
			if r := recover(); r != nil {
				done <- &dispatcherrors.PanicError{Value: r, Stacktrace: string(debug.Stack())}
			}
		}()
		done <- fn(runCtx, args)
	}()

	select {
	case err = <-done:
		return err
	case <-runCtx.Done():
		return fmt.Errorf("job timed out: %w", runCtx.Err())
	}
}

func panicBacktrace(err error) []string {
	if pe, ok := err.(*dispatcherrors.PanicError); ok {
		return []string{pe.Stacktrace}
	}
	return nil
}

func enqueuedAtArg(enqueuedAt float64) json.RawMessage {
	raw, _ := json.Marshal(enqueuedAt)
	return raw
}

func (e *Executor) storeResult(ctx context.Context, jobID string, status result.Status, output json.RawMessage, errMsg string, duration time.Duration) {
	if e.resultBackend == nil || jobID == "" {
		return
	}
	res := &result.Result{
		JobID:       jobID,
		Status:      status,
		Output:      output,
		Error:       errMsg,
		CompletedAt: time.Now(),
		Duration:    duration,
	}
	if err := e.resultBackend.StoreResult(ctx, res); err != nil {
		e.log.Error("failed to store job result", "job_id", jobID, "error", err)
	}
}

// ExecuteCron runs execute_cron for a cron-fired class: invoke the
// handler with no args under its timeout and return its error, if any.
// It does not re-schedule the class; the dispatcher's cron promoter
// does that after every call, success or failure. Cron failures do not
// go through the retry state machine; the next scheduled fire is the
// retry.
func (e *Executor) ExecuteCron(ctx context.Context, class string) error {
	fn, meta, err := e.registry.Resolve(class)
	if err != nil {
		e.log.Error("cron class not registered", "class", class, "error", err)
		return err
	}

	start := time.Now()
	execErr := e.runWithTimeout(ctx, fn, nil, meta.Timeout)
	duration := time.Since(start)

	if execErr != nil {
		e.log.Error("cron job failed", "class", class, "error", execErr)
		return execErr
	}
	e.log.Info("cron job completed", "class", class, "duration_ms", duration.Milliseconds())
	return nil
}
