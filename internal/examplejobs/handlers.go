// Package examplejobs contains example job handlers for demonstration.
// Operators wire their own handlers into the registry the same way;
// these exist to give cmd/dispatch something to run out of the box.
package examplejobs

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/joblift/dispatch/internal/handler"
)

// NewCountItems returns a handler that counts items in a JSON array
// argument.
func NewCountItems() (handler.Func, handler.Metadata) {
	fn := func(ctx context.Context, args []json.RawMessage) error {
		if len(args) == 0 {
			return nil
		}
		var items []string
		if err := json.Unmarshal(args[0], &items); err != nil {
			return err
		}
		log.Printf("count_items: counted %d items", len(items))
		return nil
	}
	return fn, handler.Metadata{
		Queue:      "default",
		MaxRetries: 3,
		Timeout:    10 * time.Second,
	}
}

// NewSendEmail returns a handler that simulates sending an email.
func NewSendEmail() (handler.Func, handler.Metadata) {
	fn := func(ctx context.Context, args []json.RawMessage) error {
		if len(args) < 1 {
			return nil
		}
		var to string
		if err := json.Unmarshal(args[0], &to); err != nil {
			return err
		}
		log.Printf("send_email: sending to %s", to)
		return nil
	}
	return fn, handler.Metadata{
		Queue:      "default",
		MaxRetries: 5,
		Timeout:    30 * time.Second,
	}
}

// NewCleanupReports returns a cron-only handler: it takes no
// arguments and exists to be fired by the cron promoter rather than
// enqueued directly.
func NewCleanupReports() (handler.Func, handler.Metadata) {
	fn := func(ctx context.Context, args []json.RawMessage) error {
		log.Printf("cleanup_reports: running scheduled cleanup")
		return nil
	}
	return fn, handler.Metadata{
		Queue:   "reports",
		Timeout: time.Minute,
	}
}

// Register wires every example handler into registry under its class
// name.
func Register(registry *handler.Registry) {
	registry.Register("count_items", NewCountItems)
	registry.Register("send_email", NewSendEmail)
	registry.Register("cleanup_reports", NewCleanupReports)
}
