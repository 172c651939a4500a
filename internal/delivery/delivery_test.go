package delivery_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipreach/downorch/internal/delivery"
	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/task"
)

func newTestGateway(t *testing.T) *kvstore.Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvstore.New(rdb, "test")
}

func TestPrepareRejectsPending(t *testing.T) {
	s := delivery.New(newTestGateway(t), nil)
	tk := &task.Task{ID: "t1", Status: task.StatusPending}

	_, _, err := s.Prepare(tk)
	if !apperr.IsNotReady(err) {
		t.Fatalf("expected not-ready error, got %v", err)
	}
}

func TestPrepareRejectsMissingFile(t *testing.T) {
	s := delivery.New(newTestGateway(t), nil)
	tk := &task.Task{ID: "t1", Status: task.StatusCompleted, FilePath: "/nonexistent/path.mp4"}

	_, _, err := s.Prepare(tk)
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestPrepareRejectsAlreadyDeliveredTask(t *testing.T) {
	s := delivery.New(newTestGateway(t), nil)
	tk := &task.Task{ID: "t1", Status: task.StatusDone}

	_, _, err := s.Prepare(tk)
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found error for a DONE task, got %v", err)
	}
}

func TestStreamCompletesAndTransitionsToDone(t *testing.T) {
	gw := newTestGateway(t)
	s := delivery.New(gw, nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.mp4")
	content := strings.Repeat("x", 2048)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tk := task.New("t1", task.Request{URL: "https://youtube.com/watch?v=abc"}, task.Media{})
	tk.Status = task.StatusCompleted
	tk.FilePath = path
	if err := gw.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	f, size, err := s.Prepare(tk)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer f.Close()
	if size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), size)
	}

	var buf bytes.Buffer
	if err := s.Stream(ctx, tk, &buf, f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if buf.String() != content {
		t.Fatalf("streamed content mismatch")
	}
	if tk.Status != task.StatusDone {
		t.Fatalf("expected status DONE, got %s", tk.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after delivery")
	}

	got, err := gw.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Fatalf("expected persisted status DONE, got %s", got.Status)
	}
}

func TestAttachmentFilenamePreservesUnicodeWithASCIIFallback(t *testing.T) {
	header := delivery.AttachmentFilename("Видео.mp4")
	if !strings.Contains(header, `filename*=UTF-8''`) {
		t.Fatalf("expected RFC 5987 extended form, got %q", header)
	}
	if !strings.Contains(header, `filename="`) {
		t.Fatalf("expected ASCII fallback filename, got %q", header)
	}
}

func TestAttachmentFilenameASCIIOnly(t *testing.T) {
	header := delivery.AttachmentFilename("my video.mp4")
	if !strings.Contains(header, "my video.mp4") {
		t.Fatalf("expected ascii filename preserved in fallback, got %q", header)
	}
}
