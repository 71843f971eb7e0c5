// Package result implements the optional job-result backend, which
// lets a caller look up or wait for the outcome of a job it enqueued
// with an id. pkg/client reads through it; the worker's executor
// writes through it only when one is attached (cmd/dispatch does so
// when RESULT_BACKEND_ENABLED is set). A job without an id never gets
// a result recorded.
package result

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the terminal state of a job the caller asked to be
// recorded.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is what a producer fetches back for a job id.
type Result struct {
	JobID       string
	Status      Status
	Output      json.RawMessage
	Error       string
	CompletedAt time.Time
	Duration    time.Duration
}

// IsSuccess reports whether the job completed without error.
func (r *Result) IsSuccess() bool { return r.Status == StatusSuccess }

// IsFailed reports whether the job's handler returned an error.
func (r *Result) IsFailed() bool { return r.Status == StatusFailed }

// Backend stores and retrieves job results by id.
type Backend interface {
	// StoreResult records a job's outcome. Returns an error if storage
	// fails.
	StoreResult(ctx context.Context, result *Result) error

	// GetResult retrieves a result by job id. Returns nil, nil if the
	// job hasn't completed yet or its result has expired.
	GetResult(ctx context.Context, jobID string) (*Result, error)

	// WaitForResult blocks until a result is available or timeout
	// elapses. Returns nil, nil on timeout.
	WaitForResult(ctx context.Context, jobID string, timeout time.Duration) (*Result, error)

	// DeleteResult removes a result. Not an error if it doesn't exist.
	DeleteResult(ctx context.Context, jobID string) error

	// Close closes any connections the backend holds.
	Close() error
}
