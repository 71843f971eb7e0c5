package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/joblift/dispatch/internal/descriptor"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	store, err := NewFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return store, mr
}

func TestNewFromURL_InvalidURL(t *testing.T) {
	_, err := NewFromURL(context.Background(), "not-a-url")
	if err == nil {
		t.Fatal("expected an error for an invalid redis url")
	}
}

func rawArg(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal arg: %v", err)
	}
	return b
}

func TestPushPop_FIFO(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	a := descriptor.New("send_email", []json.RawMessage{rawArg(t, "a")}, 1.0)
	b := descriptor.New("send_email", []json.RawMessage{rawArg(t, "b")}, 2.0)

	if _, err := store.Push(ctx, "default", a); err != nil {
		t.Fatalf("push a: %v", err)
	}
	if _, err := store.Push(ctx, "default", b); err != nil {
		t.Fatalf("push b: %v", err)
	}

	got, ok, err := store.Pop(ctx, "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if string(got.Args[0]) != `"a"` {
		t.Fatalf("expected FIFO order, got %s first", got.Args[0])
	}

	got, ok, err = store.Pop(ctx, "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if string(got.Args[0]) != `"b"` {
		t.Fatalf("expected b second, got %s", got.Args[0])
	}
}

func TestPushPriority_JumpsQueue(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	normal := descriptor.New("send_email", []json.RawMessage{rawArg(t, "normal")}, 1.0)
	retry := descriptor.New("send_email", []json.RawMessage{rawArg(t, "retry")}, 2.0)

	if _, err := store.Push(ctx, "default", normal); err != nil {
		t.Fatalf("push normal: %v", err)
	}
	if _, err := store.PushPriority(ctx, "default", retry); err != nil {
		t.Fatalf("push priority: %v", err)
	}

	got, ok, err := store.Pop(ctx, "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if string(got.Args[0]) != `"retry"` {
		t.Fatalf("expected priority retry first, got %s", got.Args[0])
	}
}

func TestPop_Timeout(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	_, ok, err := store.Pop(context.Background(), "empty", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected timeout, got a descriptor")
	}
}

func TestPromoteDue(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	due := descriptor.New("send_email", []json.RawMessage{rawArg(t, "due")}, 1.0)
	notDue := descriptor.New("send_email", []json.RawMessage{rawArg(t, "future")}, 1.0)

	if err := store.Schedule(ctx, "default", due, 100); err != nil {
		t.Fatalf("schedule due: %v", err)
	}
	if err := store.Schedule(ctx, "default", notDue, 9999999999); err != nil {
		t.Fatalf("schedule future: %v", err)
	}

	n, err := store.PromoteDue(ctx, "default", 200)
	if err != nil {
		t.Fatalf("promote_due: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promoted, got %d", n)
	}

	stats, err := store.Stats(ctx, "default")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Size != 1 {
		t.Fatalf("expected live size 1, got %d", stats.Size)
	}
	if stats.Scheduled != 1 {
		t.Fatalf("expected 1 still scheduled, got %d", stats.Scheduled)
	}
}

func TestPromoteDue_PriorityRetryGoesToPriorityEnd(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	normal := descriptor.New("send_email", []json.RawMessage{rawArg(t, "normal")}, 1.0)
	if _, err := store.Push(ctx, "default", normal); err != nil {
		t.Fatalf("push normal: %v", err)
	}

	retry := descriptor.New("send_email", []json.RawMessage{rawArg(t, "retry")}, 1.0)
	retry.PriorityRetry = true
	if err := store.Schedule(ctx, "default", retry, 100); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	if _, err := store.PromoteDue(ctx, "default", 200); err != nil {
		t.Fatalf("promote_due: %v", err)
	}

	got, ok, err := store.Pop(ctx, "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if string(got.Args[0]) != `"retry"` {
		t.Fatalf("expected promoted priority retry first, got %s", got.Args[0])
	}
	if got.PriorityRetry {
		t.Fatal("expected priority_retry flag to be stripped before push")
	}
}

func TestStoreFailedAndFailedJobs(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	d := descriptor.New("send_email", []json.RawMessage{rawArg(t, "x")}, 1.0)
	rec := descriptor.NewFailedRecord(d, 2.0, "boom", []string{"frame1", "frame2"})

	if err := store.StoreFailed(ctx, rec); err != nil {
		t.Fatalf("store_failed: %v", err)
	}

	recs, err := store.FailedJobs(ctx)
	if err != nil {
		t.Fatalf("failed_jobs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(recs))
	}
	if recs[0].Error != "boom" {
		t.Fatalf("expected error message to round-trip, got %q", recs[0].Error)
	}
}

func TestProcessingCounter(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	store.IncrProcessing(ctx, "default")
	store.IncrProcessing(ctx, "default")
	store.DecrProcessing(ctx, "default")

	stats, err := store.Stats(ctx, "default")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Processing != 1 {
		t.Fatalf("expected processing=1, got %d", stats.Processing)
	}
}
