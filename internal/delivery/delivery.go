// Package delivery streams a completed task's file to the client in large
// chunks, computes an RFC 5987 attachment filename, and performs the
// COMPLETED -> DONE transition and cleanup only once the transfer has
// fully succeeded. Split out of internal/httpapi so the chunked-copy and
// filename logic is unit testable without standing up an HTTP server.
package delivery

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/clipreach/downorch/internal/constants"
	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/storage"
	"github.com/clipreach/downorch/internal/task"
)

// Streamer copies a task's produced file to a writer and performs the
// completion transition. It holds no per-request state, so a single
// instance is shared across requests.
type Streamer struct {
	gw    *kvstore.Gateway
	audit *storage.AuditLog
}

// New returns a Streamer backed by gw. audit may be nil to skip audit
// logging.
func New(gw *kvstore.Gateway, audit *storage.AuditLog) *Streamer {
	return &Streamer{gw: gw, audit: audit}
}

// Prepare validates that a task is ready for delivery and returns both
// the task and an opened file handle the caller must close. It is split
// from Stream so an HTTP handler can set headers (Content-Length,
// Content-Disposition) before writing the body.
func (s *Streamer) Prepare(t *task.Task) (*os.File, int64, error) {
	if t.Status == task.StatusPending {
		return nil, 0, apperr.NewWithMessage("delivery.Prepare", apperr.ErrNotReady, "task is still in progress")
	}
	if t.Status != task.StatusCompleted {
		return nil, 0, apperr.NewWithMessage("delivery.Prepare", apperr.ErrNotFound, "file already delivered or unavailable")
	}
	if t.FilePath == "" {
		return nil, 0, apperr.NewWithMessage("delivery.Prepare", apperr.ErrNotFound, "file missing")
	}

	f, err := os.Open(t.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, apperr.NewWithMessage("delivery.Prepare", apperr.ErrNotFound, "file missing")
		}
		return nil, 0, apperr.Wrap("delivery.Prepare", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apperr.Wrap("delivery.Prepare", err)
	}

	return f, info.Size(), nil
}

// Stream copies src to dst in >=1 MiB chunks. On full success it deletes
// the underlying file, transitions the task COMPLETED -> DONE, and
// publishes the terminal snapshot so any active progress-bus subscriber
// closes. A partial transfer (write error, client disconnect) leaves the
// task COMPLETED and the file in place so a retried request can still
// deliver it.
func (s *Streamer) Stream(ctx context.Context, t *task.Task, dst io.Writer, src io.Reader) error {
	buf := make([]byte, constants.DeliveryChunkSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		return apperr.WrapWithMessage("delivery.Stream", err, "transfer did not complete")
	}

	if err := os.Remove(t.FilePath); err != nil && !os.IsNotExist(err) {
		logger.Log.Warn().Err(err).Str("traceID", t.ID).Msg("failed to remove delivered file")
	}

	t.Status = task.StatusDone
	t.FilePath = ""
	if err := s.gw.PutTask(ctx, t); err != nil {
		return apperr.Wrap("delivery.Stream", err)
	}

	if s.audit != nil {
		userID, _ := s.gw.GetTaskUser(ctx, t.ID)
		if err := s.audit.Record(t.ID, userID, storage.EventDelivered, t.Request.URL, "", ""); err != nil {
			logger.Log.Warn().Err(err).Str("traceID", t.ID).Msg("failed to record audit event")
		}
	}

	return nil
}

// AttachmentFilename builds a Content-Disposition header value for name,
// preferring the RFC 5987 extended form (which preserves non-ASCII
// titles) and always including an ASCII-only fallback for clients that
// don't parse filename*.
func AttachmentFilename(name string) string {
	ascii := toASCIIFallback(name)
	encoded := url.PathEscape(name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, encoded)
}

// toASCIIFallback strips name down to printable ASCII, replacing runs of
// anything else with "_", for the quoted filename= fallback parameter.
func toASCIIFallback(name string) string {
	var b strings.Builder
	lastWasReplacement := false
	for _, r := range name {
		if r <= unicode.MaxASCII && unicode.IsPrint(r) && r != '"' && r != '\\' {
			b.WriteRune(r)
			lastWasReplacement = false
			continue
		}
		if !lastWasReplacement {
			b.WriteByte('_')
			lastWasReplacement = true
		}
	}
	out := strings.Trim(b.String(), "_ ")
	if out == "" {
		return "download"
	}
	return out
}
