// Package client is the producer-side API: enqueue jobs for immediate,
// delayed, or absolute-time execution, optionally wait for their
// result, and optionally encode a single structured argument as
// protobuf instead of plain JSON.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/proto"

	"github.com/joblift/dispatch/internal/descriptor"
	"github.com/joblift/dispatch/internal/queue"
	"github.com/joblift/dispatch/internal/result"
	"github.com/joblift/dispatch/internal/serialization"
)

// Client is a producer's handle onto the job queue and, optionally,
// the result backend.
type Client struct {
	queue         *queue.Store
	resultBackend result.Backend
	serializer    *serialization.Serializer
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithResultBackend attaches a result backend so SubmitAndWait and
// GetResult work; without one, jobs are fire-and-forget.
func WithResultBackend(backend result.Backend) Option {
	return func(c *Client) { c.resultBackend = backend }
}

// WithResultBackendTTLs is a convenience that builds and attaches a
// Redis-backed result backend on redisClient, a connection separate
// from the queue's own.
func WithResultBackendTTLs(redisClient *redis.Client, successTTL, failureTTL time.Duration) Option {
	return func(c *Client) {
		c.resultBackend = result.NewRedisBackend(redisClient, successTTL, failureTTL)
	}
}

// New builds a Client connected to redisURL.
func New(redisURL string, opts ...Option) (*Client, error) {
	store, err := queue.NewFromURL(context.Background(), redisURL)
	if err != nil {
		return nil, fmt.Errorf("client: connect to redis: %w", err)
	}

	c := &Client{
		queue:      store,
		serializer: serialization.NewSerializer(serialization.FormatJSON),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// encodeArgs marshals each positional argument to JSON. A value that
// implements proto.Message is instead protobuf-encoded and wrapped as
// a base64 JSON string, per the producer payload codec.
func (c *Client) encodeArgs(args []interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		if msg, ok := arg.(proto.Message); ok {
			encoded, err := c.serializer.MarshalWithFormat(msg, serialization.FormatProtobuf)
			if err != nil {
				return nil, fmt.Errorf("client: encode protobuf arg %d: %w", i, err)
			}
			b64, err := json.Marshal(base64.StdEncoding.EncodeToString(encoded))
			if err != nil {
				return nil, fmt.Errorf("client: wrap protobuf arg %d: %w", i, err)
			}
			raw[i] = b64
			continue
		}

		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("client: encode arg %d: %w", i, err)
		}
		raw[i] = b
	}
	return raw, nil
}

// Enqueue writes a descriptor for class to queueName, for immediate
// dispatch.
func (c *Client) Enqueue(ctx context.Context, queueName, class string, args ...interface{}) (string, error) {
	return c.enqueue(ctx, queueName, class, args, nil)
}

// EnqueueIn schedules class to run after delay.
func (c *Client) EnqueueIn(ctx context.Context, queueName, class string, delay time.Duration, args ...interface{}) (string, error) {
	at := unixNow() + delay.Seconds()
	return c.enqueue(ctx, queueName, class, args, &at)
}

// EnqueueAt schedules class to run at the given absolute time.
func (c *Client) EnqueueAt(ctx context.Context, queueName, class string, at time.Time, args ...interface{}) (string, error) {
	atUnix := float64(at.UnixNano()) / 1e9
	return c.enqueue(ctx, queueName, class, args, &atUnix)
}

func (c *Client) enqueue(ctx context.Context, queueName, class string, args []interface{}, scheduleAt *float64) (string, error) {
	encoded, err := c.encodeArgs(args)
	if err != nil {
		return "", err
	}

	desc := descriptor.New(class, encoded, unixNow())
	if c.resultBackend != nil {
		desc.ID = uuid.NewString()
	}

	if scheduleAt != nil {
		if err := c.queue.Schedule(ctx, queueName, desc, *scheduleAt); err != nil {
			return "", fmt.Errorf("client: schedule %s: %w", class, err)
		}
		return desc.ID, nil
	}

	if _, err := c.queue.Push(ctx, queueName, desc); err != nil {
		return "", fmt.Errorf("client: enqueue %s: %w", class, err)
	}
	return desc.ID, nil
}

// GetResult fetches the stored outcome of a job submitted with a
// result backend attached. Returns nil if the job hasn't completed,
// and an error if no result backend is configured.
func (c *Client) GetResult(ctx context.Context, jobID string) (*result.Result, error) {
	if c.resultBackend == nil {
		return nil, fmt.Errorf("client: no result backend configured")
	}
	return c.resultBackend.GetResult(ctx, jobID)
}

// SubmitAndWait enqueues class for immediate execution and blocks
// until its result is available or timeout elapses.
func (c *Client) SubmitAndWait(ctx context.Context, queueName, class string, timeout time.Duration, args ...interface{}) (*result.Result, error) {
	if c.resultBackend == nil {
		return nil, fmt.Errorf("client: no result backend configured")
	}

	jobID, err := c.Enqueue(ctx, queueName, class, args...)
	if err != nil {
		return nil, err
	}

	res, err := c.resultBackend.WaitForResult(ctx, jobID, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: wait for result: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("client: job %s did not complete within %v", jobID, timeout)
	}
	return res, nil
}

// Close releases the client's Redis connections.
func (c *Client) Close() error {
	var queueErr, resultErr error
	if c.queue != nil {
		queueErr = c.queue.Close()
	}
	if c.resultBackend != nil {
		resultErr = c.resultBackend.Close()
	}
	if queueErr != nil {
		return queueErr
	}
	return resultErr
}
