// Package descriptor defines the wire record that flows through every
// stage of the pipeline: durable Redis storage, the in-memory hand-off
// channel, and the worker that finally executes it.
package descriptor

import (
	"encoding/json"
	"fmt"
)

// Descriptor is the job record persisted to Redis and handed to workers.
// Fields are tagged to match the on-wire JSON schema exactly; anything
// reading the queue keys directly (operators, other languages) depends
// on these names staying stable.
type Descriptor struct {
	Class         string            `json:"class"`
	Args          []json.RawMessage `json:"args"`
	EnqueuedAt    float64           `json:"enqueued_at"`
	RetryCount    int               `json:"retry_count"`
	PriorityRetry bool              `json:"priority_retry,omitempty"`

	// ID is producer-assigned and optional: present only when a
	// caller wants to look up a result later via the result backend.
	// It is never required by the core pipeline.
	ID string `json:"id,omitempty"`
}

// New builds a descriptor ready for first enqueue: retry_count 0,
// priority_retry false.
func New(class string, args []json.RawMessage, enqueuedAt float64) Descriptor {
	return Descriptor{
		Class:      class,
		Args:       args,
		EnqueuedAt: enqueuedAt,
	}
}

// WithRetry returns a copy of d with retry_count incremented and
// priority_retry set as requested. The original descriptor is left
// untouched; retries never mutate in place.
func (d Descriptor) WithRetry(enqueuedAt float64, priorityRetry bool) Descriptor {
	next := d
	next.RetryCount = d.RetryCount + 1
	next.EnqueuedAt = enqueuedAt
	next.PriorityRetry = priorityRetry
	return next
}

// Marshal serializes the descriptor to the exact wire format stored in
// Redis list/zset members.
func (d Descriptor) Marshal() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return b, nil
}

// Unmarshal parses a descriptor from its wire representation.
func Unmarshal(raw []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	return d, nil
}

// FailedRecord is the record appended to the `failed` list once a job
// exhausts its retries: the original descriptor's fields merged flat
// with the failure fields, matching the canonical wire schema rather
// than nesting the descriptor under its own key.
type FailedRecord struct {
	Descriptor
	FailedAt  float64  `json:"failed_at"`
	Error     string   `json:"error"`
	Backtrace []string `json:"backtrace,omitempty"`
}

// maxBacktraceFrames caps how many stack frames are kept per failure
// record, so one pathological panic can't bloat the `failed` list.
const maxBacktraceFrames = 10

// NewFailedRecord builds a failed-job record, truncating the backtrace
// to maxBacktraceFrames.
func NewFailedRecord(d Descriptor, failedAt float64, errMsg string, backtrace []string) FailedRecord {
	if len(backtrace) > maxBacktraceFrames {
		backtrace = backtrace[:maxBacktraceFrames]
	}
	return FailedRecord{
		Descriptor: d,
		FailedAt:   failedAt,
		Error:      errMsg,
		Backtrace:  backtrace,
	}
}

// Marshal serializes a failed record to the exact wire format stored in
// the `failed` list.
func (f FailedRecord) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal failed record: %w", err)
	}
	return b, nil
}

// UnmarshalFailedRecord parses a failed record from its wire representation.
func UnmarshalFailedRecord(raw []byte) (FailedRecord, error) {
	var f FailedRecord
	if err := json.Unmarshal(raw, &f); err != nil {
		return FailedRecord{}, fmt.Errorf("unmarshal failed record: %w", err)
	}
	return f, nil
}
