package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/provider"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/worker"
)

type scriptedAdapter struct {
	filePath string
	err      error
}

func (s scriptedAdapter) Name() string { return "scripted" }

func (s scriptedAdapter) ResolveFormats(_ context.Context, _ string) (task.Media, error) {
	return task.Media{}, nil
}

func (s scriptedAdapter) Download(_ context.Context, _ string, _ task.Request, _ task.Media, _ string, onProgress provider.ProgressFunc, _ provider.CancelFunc) (string, error) {
	if onProgress != nil {
		onProgress(50, 1000, 10)
	}
	return s.filePath, s.err
}

func newTestGateway(t *testing.T) *kvstore.Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvstore.New(rdb, "test")
}

func waitForStatus(t *testing.T, gw *kvstore.Gateway, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := gw.GetTask(context.Background(), id)
		if err == nil && got.Status == want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return nil
}

func TestPoolCompletesSuccessfulDownload(t *testing.T) {
	gw := newTestGateway(t)
	registry := provider.NewRegistry()
	registry.Register("youtube.com", scriptedAdapter{filePath: "/tmp/out.mp4"})

	pool := worker.New(gw, registry, nil, "/tmp", 50*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)
	defer pool.Stop()

	tk := task.New("t1", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := gw.EnqueueTask(ctx, "t1"); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	got := waitForStatus(t, gw, "t1", task.StatusCompleted)
	if got.FilePath != "/tmp/out.mp4" {
		t.Fatalf("expected filepath set, got %q", got.FilePath)
	}
	if got.Percent != 100 {
		t.Fatalf("expected 100%% on completion, got %v", got.Percent)
	}
}

func TestPoolMarksProviderFailureAsError(t *testing.T) {
	gw := newTestGateway(t)
	registry := provider.NewRegistry()
	registry.Register("youtube.com", scriptedAdapter{err: errors.New("boom")})

	pool := worker.New(gw, registry, nil, "/tmp", 50*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)
	defer pool.Stop()

	tk := task.New("t2", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := gw.EnqueueTask(ctx, "t2"); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	waitForStatus(t, gw, "t2", task.StatusError)
}

func TestPoolMarksCanceledErrAsCanceled(t *testing.T) {
	gw := newTestGateway(t)
	registry := provider.NewRegistry()
	registry.Register("youtube.com", scriptedAdapter{err: apperr.ErrCanceled})

	pool := worker.New(gw, registry, nil, "/tmp", 50*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)
	defer pool.Stop()

	tk := task.New("t3", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := gw.EnqueueTask(ctx, "t3"); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	waitForStatus(t, gw, "t3", task.StatusCanceled)
}

func TestPoolMarksUnsupportedPlatformAsError(t *testing.T) {
	gw := newTestGateway(t)
	registry := provider.NewRegistry() // no adapters registered

	pool := worker.New(gw, registry, nil, "/tmp", 50*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)
	defer pool.Stop()

	tk := task.New("t4", task.Request{URL: "https://example.com/video"}, task.Media{})
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := gw.EnqueueTask(ctx, "t4"); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	waitForStatus(t, gw, "t4", task.StatusError)
}
