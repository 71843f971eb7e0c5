// Package retry implements the failure state machine a descriptor
// enters once its handler raises: either a delayed re-schedule with an
// incremented retry count, or a terminal move to the failed list.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/joblift/dispatch/internal/descriptor"
	"github.com/joblift/dispatch/internal/handler"
)

// Store is the subset of the queue store the retry machine needs.
type Store interface {
	Schedule(ctx context.Context, q string, desc descriptor.Descriptor, at float64) error
	StoreFailed(ctx context.Context, rec descriptor.FailedRecord) error
}

// Clock returns the current unix time in seconds as a float64, matching
// the descriptor's time encoding. Tests substitute a fixed clock.
type Clock func() float64

// Handle runs the retry/failure state machine for desc against meta
// after its handler returned execErr. queue is the name desc.Class
// runs on (meta.Queue). backtrace is an optional stack capture, used
// only on terminal failure.
func Handle(ctx context.Context, store Store, clock Clock, queue string, desc descriptor.Descriptor, meta handler.Metadata, execErr error, backtrace []string) error {
	if desc.RetryCount >= meta.MaxRetries {
		rec := descriptor.NewFailedRecord(desc, clock(), execErr.Error(), backtrace)
		if err := store.StoreFailed(ctx, rec); err != nil {
			return fmt.Errorf("retry: store_failed: %w", err)
		}
		return nil
	}

	delay := meta.RetryDelay(desc.RetryCount + 1)
	if delay < 0 {
		delay = 0
	}
	next := desc.WithRetry(clock(), meta.PriorityRetry)
	at := clock() + delay.Seconds()
	if err := store.Schedule(ctx, queue, next, at); err != nil {
		return fmt.Errorf("retry: schedule: %w", err)
	}
	return nil
}

// DefaultDelay is the retry-delay function handler.Resolve applies to
// any Metadata that doesn't declare its own: exponential backoff with
// uniform jitter. Exported here under the retry package's own name for
// callers that want the default explicitly; the implementation lives
// in handler.DefaultRetryDelay so Resolve can apply it without an
// import cycle back into this package.
func DefaultDelay(attempt int) time.Duration {
	return handler.DefaultRetryDelay(attempt)
}
