package descriptor

import (
	"encoding/json"
	"testing"
)

func TestNew_DefaultsRetryCountAndPriorityRetry(t *testing.T) {
	d := New("send_email", []json.RawMessage{[]byte(`"x"`)}, 1.5)
	if d.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", d.RetryCount)
	}
	if d.PriorityRetry {
		t.Fatal("expected priority_retry false by default")
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	d := New("send_email", []json.RawMessage{[]byte(`"a"`), []byte(`1.5`)}, 100)

	raw, err := d.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Class != d.Class || got.EnqueuedAt != d.EnqueuedAt || len(got.Args) != len(d.Args) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestWithRetry_IncrementsAndLeavesOriginalUntouched(t *testing.T) {
	d := New("send_email", nil, 1)
	next := d.WithRetry(2, true)

	if d.RetryCount != 0 {
		t.Fatal("expected original descriptor to be left untouched")
	}
	if next.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", next.RetryCount)
	}
	if !next.PriorityRetry {
		t.Fatal("expected priority_retry to be set")
	}
	if next.EnqueuedAt != 2 {
		t.Fatalf("expected enqueued_at updated to 2, got %v", next.EnqueuedAt)
	}
}

func TestNewFailedRecord_TruncatesBacktrace(t *testing.T) {
	d := New("send_email", nil, 1)
	frames := make([]string, 20)
	for i := range frames {
		frames[i] = "frame"
	}

	rec := NewFailedRecord(d, 2, "boom", frames)
	if len(rec.Backtrace) != maxBacktraceFrames {
		t.Fatalf("expected backtrace truncated to %d frames, got %d", maxBacktraceFrames, len(rec.Backtrace))
	}
}

func TestFailedRecord_MarshalUnmarshal_RoundTrip(t *testing.T) {
	d := New("send_email", nil, 1)
	rec := NewFailedRecord(d, 2, "boom", []string{"frame1"})

	raw, err := rec.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalFailedRecord(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Error != "boom" || got.Descriptor.Class != "send_email" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}
