package progressbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/progressbus"
	"github.com/clipreach/downorch/internal/task"
)

func newTestGateway(t *testing.T) *kvstore.Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvstore.New(rdb, "test")
}

func recvWithTimeout(t *testing.T, ch <-chan task.Snapshot) task.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return task.Snapshot{}
	}
}

func TestSubscribeDeliversInitialSnapshotThenTail(t *testing.T) {
	gw := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := task.New("t1", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{Title: "hi"})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	ch, release, err := progressbus.Subscribe(ctx, gw, "t1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer release()

	initial := recvWithTimeout(t, ch)
	if initial.Status != task.StatusPending {
		t.Fatalf("expected pending initial snapshot, got %s", initial.Status)
	}

	tk.SetProgress(42, 500, 5, "")
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	update := recvWithTimeout(t, ch)
	if update.Percent != 42 {
		t.Fatalf("expected percent 42, got %v", update.Percent)
	}
}

func TestSubscribeClosesOnTerminalStatus(t *testing.T) {
	gw := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := task.New("t2", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	ch, release, err := progressbus.Subscribe(ctx, gw, "t2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer release()

	recvWithTimeout(t, ch) // initial snapshot

	tk.Status = task.StatusCompleted
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	terminal := recvWithTimeout(t, ch)
	if terminal.Status != task.StatusCompleted {
		t.Fatalf("expected completed snapshot, got %s", terminal.Status)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after terminal status")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel did not close after terminal status")
	}
}

func TestSubscribeUnknownTask(t *testing.T) {
	gw := newTestGateway(t)
	_, _, err := progressbus.Subscribe(context.Background(), gw, "missing")
	if err == nil {
		t.Fatalf("expected error for unknown task")
	}
}
