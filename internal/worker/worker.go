// Package worker drains the KV Store Gateway's work queue and drives a
// provider adapter end to end for each task: N long-lived goroutines
// blocking on the Gateway's BLPOP queue, so workers can be scaled
// horizontally across processes sharing one Redis instance. Every adapter
// outcome, success or failure, becomes a terminal task state; the loop
// itself never dies to an adapter error.
package worker

import (
	"context"
	"sync"
	"time"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/provider"
	"github.com/clipreach/downorch/internal/storage"
	"github.com/clipreach/downorch/internal/task"
)

// Pool runs a fixed number of worker goroutines, each pulling task ids off
// the Gateway's queue and running them to a terminal status.
type Pool struct {
	gw           *kvstore.Gateway
	registry     *provider.Registry
	audit        *storage.AuditLog
	downloadRoot string
	dequeueWait  time.Duration
	jobTimeout   time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a worker Pool. audit may be nil to skip audit logging.
func New(gw *kvstore.Gateway, registry *provider.Registry, audit *storage.AuditLog, downloadRoot string, dequeueWait, jobTimeout time.Duration) *Pool {
	return &Pool{
		gw:           gw,
		registry:     registry,
		audit:        audit,
		downloadRoot: downloadRoot,
		dequeueWait:  dequeueWait,
		jobTimeout:   jobTimeout,
	}
}

// Start launches n worker goroutines. Call Stop to shut them down.
func (p *Pool) Start(ctx context.Context, n int) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		workerID := i
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}

	logger.Log.Info().Int("workers", n).Msg("worker pool started")
}

// Stop cancels the pool context, which also aborts any job in flight since
// each job's context derives from it, and blocks until every worker has
// returned.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logger.Log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := p.gw.DequeueTask(ctx, p.dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error().Err(err).Int("workerID", workerID).Msg("dequeue failed")
			continue
		}
		if id == "" {
			continue // timeout, loop and check ctx again
		}

		p.process(ctx, workerID, id)
	}
}

// process drives a single task's provider adapter to completion, writing
// every status transition back through the Gateway so GetStatus, the
// progress bus, and delivery all observe the same record.
func (p *Pool) process(ctx context.Context, workerID int, id string) {
	t, err := p.gw.GetTask(ctx, id)
	if err != nil {
		logger.Log.Error().Err(err).Str("traceID", id).Msg("dequeued task missing from store")
		return
	}
	if t.Status != task.StatusPending {
		// Re-enqueued by a crashed worker's recovery path after another
		// worker already finished it; nothing to do.
		return
	}

	adapter, ok := p.registry.Lookup(t.Request.URL)
	if !ok {
		p.finishError(ctx, t, "unsupported platform")
		return
	}

	jobCtx, jobCancel := context.WithTimeout(ctx, p.jobTimeout)
	defer jobCancel()

	logger.Log.Info().
		Str("traceID", id).
		Str("phase", "download").
		Int("workerID", workerID).
		Str("provider", adapter.Name()).
		Msg("download starting")

	isCanceled := provider.CancelFuncFromGateway(jobCtx, p.gw, id)
	onProgress := p.progressFunc(jobCtx, t)

	filePath, err := adapter.Download(jobCtx, id, t.Request, t.Media, p.downloadRoot, onProgress, isCanceled)
	if err != nil {
		p.finishDownloadErr(ctx, t, err)
		return
	}

	t.Status = task.StatusCompleted
	t.Percent = 100
	t.FilePath = filePath
	t.Description = "download complete"
	if err := p.gw.PutTask(ctx, t); err != nil {
		logger.Log.Error().Err(err).Str("traceID", id).Msg("failed to persist completed task")
		return
	}
	_ = p.gw.ClearCancel(ctx, id)
	p.recordAudit(t, storage.EventCompleted, "")

	logger.Log.Info().Str("traceID", id).Str("phase", "completed").Msg("download complete")
}

// progressFunc returns the ProgressFunc threaded into the adapter: every
// call re-fetches the latest task record before mutating it, so a
// concurrent cancel (which only touches Status and the cancel flag) is
// never clobbered by a stale in-memory copy.
func (p *Pool) progressFunc(ctx context.Context, t *task.Task) provider.ProgressFunc {
	id := t.ID
	return func(percent, speedBPS float64, etaSeconds int) {
		current, err := p.gw.GetTask(ctx, id)
		if err != nil || current.Status != task.StatusPending {
			return
		}
		current.SetProgress(percent, speedBPS, etaSeconds, "")
		if err := p.gw.PutTask(ctx, current); err != nil {
			logger.Log.Warn().Err(err).Str("traceID", id).Msg("failed to persist progress")
		}
	}
}

func (p *Pool) finishDownloadErr(ctx context.Context, t *task.Task, err error) {
	if apperr.IsCanceled(err) {
		t.Status = task.StatusCanceled
		t.Description = "canceled by user"
		if putErr := p.gw.PutTask(ctx, t); putErr != nil {
			logger.Log.Error().Err(putErr).Str("traceID", t.ID).Msg("failed to persist canceled task")
		}
		_ = p.gw.ClearCancel(ctx, t.ID)
		p.recordAudit(t, storage.EventCanceled, "")
		logger.Log.Info().Str("traceID", t.ID).Str("phase", "canceled").Msg("download canceled")
		return
	}

	p.finishError(ctx, t, err.Error())
}

func (p *Pool) finishError(ctx context.Context, t *task.Task, detail string) {
	t.Status = task.StatusError
	t.Description = detail
	if err := p.gw.PutTask(ctx, t); err != nil {
		logger.Log.Error().Err(err).Str("traceID", t.ID).Msg("failed to persist errored task")
	}
	_ = p.gw.ClearCancel(ctx, t.ID)
	p.recordAudit(t, storage.EventErrored, detail)

	logger.Log.Error().Str("traceID", t.ID).Str("phase", "error").Str("detail", detail).Msg("download failed")
}

func (p *Pool) recordAudit(t *task.Task, event, detail string) {
	if p.audit == nil {
		return
	}
	userID, _ := p.gw.GetTaskUser(context.Background(), t.ID)
	if err := p.audit.Record(t.ID, userID, event, t.Request.URL, "", detail); err != nil {
		logger.Log.Warn().Err(err).Str("traceID", t.ID).Msg("failed to record audit event")
	}
}
