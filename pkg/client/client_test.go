package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joblift/dispatch/internal/queue"
	"github.com/joblift/dispatch/internal/result"
)

func setupTest(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, mr
}

func TestNew_ConnectionFailure(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Fatal("expected an error for an invalid redis url")
	}
}

func TestEnqueue_WritesDescriptorToQueue(t *testing.T) {
	c, mr := setupTest(t)
	defer mr.Close()
	defer c.Close()

	if _, err := c.Enqueue(context.Background(), "default", "greet", "alice", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	store, err := queue.NewFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	desc, ok, err := store.Pop(context.Background(), "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected a queued descriptor, ok=%v err=%v", ok, err)
	}
	if desc.Class != "greet" {
		t.Fatalf("expected class greet, got %s", desc.Class)
	}
	if len(desc.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(desc.Args))
	}
}

func TestEnqueueIn_SchedulesForFuture(t *testing.T) {
	c, mr := setupTest(t)
	defer mr.Close()
	defer c.Close()

	if _, err := c.EnqueueIn(context.Background(), "default", "greet", time.Minute); err != nil {
		t.Fatalf("enqueue_in: %v", err)
	}

	store, err := queue.NewFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background(), "default")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Scheduled != 1 {
		t.Fatalf("expected 1 scheduled entry, got %d", stats.Scheduled)
	}
}

func TestEnqueueAt_SchedulesAtAbsoluteTime(t *testing.T) {
	c, mr := setupTest(t)
	defer mr.Close()
	defer c.Close()

	at := time.Now().Add(time.Hour)
	if _, err := c.EnqueueAt(context.Background(), "default", "greet", at); err != nil {
		t.Fatalf("enqueue_at: %v", err)
	}

	store, err := queue.NewFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background(), "default")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Scheduled != 1 {
		t.Fatalf("expected 1 scheduled entry, got %d", stats.Scheduled)
	}
}

func TestEnqueue_ProtobufArgEncodedAsJSONString(t *testing.T) {
	c, mr := setupTest(t)
	defer mr.Close()
	defer c.Close()

	msg := wrapperspb.String("payload")
	if _, err := c.Enqueue(context.Background(), "default", "greet", msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	store, err := queue.NewFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	desc, ok, err := store.Pop(context.Background(), "default", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected a queued descriptor, ok=%v err=%v", ok, err)
	}
	if len(desc.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(desc.Args))
	}
	var asString string
	if err := json.Unmarshal(desc.Args[0], &asString); err != nil {
		t.Fatalf("expected the protobuf arg to decode as a JSON string: %v", err)
	}
}

func TestSubmitAndWait_RequiresResultBackend(t *testing.T) {
	c, mr := setupTest(t)
	defer mr.Close()
	defer c.Close()

	if _, err := c.SubmitAndWait(context.Background(), "default", "greet", time.Second); err == nil {
		t.Fatal("expected an error without a result backend configured")
	}
}

func TestEnqueueWithResultBackend_WaitForResultReturnsStoredResult(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	opts, err := redis.ParseURL("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	redisClient := redis.NewClient(opts)

	c, err := New("redis://"+mr.Addr(), WithResultBackendTTLs(redisClient, time.Hour, time.Hour))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	jobID, err := c.Enqueue(context.Background(), "default", "greet")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.resultBackend.StoreResult(context.Background(), &result.Result{
			JobID:  jobID,
			Status: result.StatusSuccess,
		})
	}()

	res, err := c.resultBackend.WaitForResult(context.Background(), jobID, time.Second)
	if err != nil {
		t.Fatalf("wait for result: %v", err)
	}
	if res == nil || !res.IsSuccess() {
		t.Fatalf("expected a successful result, got %+v", res)
	}
}
