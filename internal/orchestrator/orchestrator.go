// Package orchestrator is the download orchestrator: admission control,
// task creation, lifecycle transitions, lock release, and restart
// recovery. It owns the KV Store Gateway; the HTTP layer depends on the
// orchestrator, never the other way around.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/clipreach/downorch/internal/constants"
	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/provider"
	"github.com/clipreach/downorch/internal/storage"
	"github.com/clipreach/downorch/internal/task"
)

// Orchestrator implements StartDownload, CancelDownload, GetStatus and
// restart recovery against a single Gateway, a provider Registry, and
// (optionally, best-effort) an audit log.
type Orchestrator struct {
	gw           *kvstore.Gateway
	registry     *provider.Registry
	audit        *storage.AuditLog
	lockTTL      time.Duration
	metaCacheTTL time.Duration
	historyLimit int
}

// New builds an Orchestrator. audit may be nil to skip audit logging.
func New(gw *kvstore.Gateway, registry *provider.Registry, audit *storage.AuditLog, lockTTL, metaCacheTTL time.Duration, historyLimit int) *Orchestrator {
	return &Orchestrator{
		gw:           gw,
		registry:     registry,
		audit:        audit,
		lockTTL:      lockTTL,
		metaCacheTTL: metaCacheTTL,
		historyLimit: historyLimit,
	}
}

// ResolveFormats is the get-formats API's single collaborator call:
// metadata cache first, then on a miss the matching provider adapter,
// whose result is then cached.
func (o *Orchestrator) ResolveFormats(ctx context.Context, url string) (task.Media, error) {
	urlHash := hashURL(url)

	if cached, err := o.gw.GetMeta(ctx, urlHash); err == nil {
		return *cached, nil
	}

	adapter, ok := o.registry.Lookup(url)
	if !ok {
		return task.Media{}, apperr.NewWithMessage("orchestrator.ResolveFormats", apperr.ErrUnsupportedPlatform, "unsupported platform")
	}

	media, err := adapter.ResolveFormats(ctx, url)
	if err != nil {
		return task.Media{}, err
	}

	if err := o.gw.PutMeta(ctx, urlHash, media, o.metaCacheTTL); err != nil {
		logger.Log.Warn().Err(err).Str("url", url).Msg("failed to cache resolved metadata")
	}

	return media, nil
}

// StartDownload runs the admission sequence: stale-lock recovery,
// metadata resolution, task creation, history append, lock acquisition,
// and enqueue.
func (o *Orchestrator) StartDownload(ctx context.Context, userID string, req task.Request) (*task.Task, error) {
	anonymous := userID == "" || userID == constants.AnonymousUserID
	if anonymous {
		userID = constants.AnonymousUserID
	}

	if !anonymous {
		if err := o.resolveStaleLockOrReject(ctx, userID); err != nil {
			return nil, err
		}
	}

	media, err := o.ResolveFormats(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	t := task.New(id, req, media)

	if err := o.gw.PutTask(ctx, t); err != nil {
		return nil, apperr.Wrap("orchestrator.StartDownload", err)
	}
	if err := o.gw.AppendUserTask(ctx, userID, id, o.historyLimit); err != nil {
		logger.Log.Warn().Err(err).Str("taskID", id).Msg("failed to append task to user history")
	}
	if !anonymous {
		acquired, err := o.gw.AcquireLock(ctx, userID, id, o.lockTTL)
		if err != nil {
			return nil, apperr.Wrap("orchestrator.StartDownload", err)
		}
		if !acquired {
			// Lost a race to a concurrent StartDownload for the same
			// user between our stale-lock check and here; surface the
			// same conflict the caller would have seen had it arrived
			// a moment earlier.
			return nil, apperr.NewWithMessage("orchestrator.StartDownload", apperr.ErrLockConflict, "user already has an active download")
		}
	}
	if err := o.gw.SetTaskUser(ctx, id, userID); err != nil {
		logger.Log.Warn().Err(err).Str("taskID", id).Msg("failed to record task owner")
	}
	if err := o.gw.EnqueueTask(ctx, id); err != nil {
		return nil, apperr.Wrap("orchestrator.StartDownload", err)
	}

	o.recordAudit(id, userID, storage.EventStarted, req.URL, "")

	logger.Log.Info().
		Str("traceID", id).
		Str("phase", "enqueue").
		Str("userID", userID).
		Str("url", req.URL).
		Msg("download task created")

	return t, nil
}

// resolveStaleLockOrReject inspects userID's active lock. A missing,
// terminal, or request-less-PENDING held task is stale and its lock is
// released by compare-and-delete against that same task id, so a lock a
// concurrent request has just taken is left in place; a genuinely active
// PENDING task rejects the new request with CONFLICT.
func (o *Orchestrator) resolveStaleLockOrReject(ctx context.Context, userID string) error {
	heldTaskID, err := o.gw.GetLockedTask(ctx, userID)
	if err != nil {
		return apperr.Wrap("orchestrator.resolveStaleLockOrReject", err)
	}
	if heldTaskID == "" {
		return nil
	}

	held, err := o.gw.GetTask(ctx, heldTaskID)
	stale := err != nil || held.Status.IsTerminal() || (held.Status == task.StatusPending && !held.CanResume())
	if stale {
		if err := o.gw.ReleaseLock(ctx, userID, heldTaskID); err != nil {
			return apperr.Wrap("orchestrator.resolveStaleLockOrReject", err)
		}
		return nil
	}

	return apperr.NewWithMessage("orchestrator.resolveStaleLockOrReject", apperr.ErrLockConflict, "user already has an active download")
}

// CancelDownload marks a task CANCELED, raises its cancel flag for the
// worker to observe, and releases the owning user's lock. Safe to call
// multiple times: a second call against an already-terminal task is a
// no-op beyond re-setting the (idempotent) cancel flag.
func (o *Orchestrator) CancelDownload(ctx context.Context, id string) error {
	t, err := o.gw.GetTask(ctx, id)
	if err != nil {
		return apperr.NewWithMessage("orchestrator.CancelDownload", apperr.ErrNotFound, "unknown task id")
	}

	if err := o.gw.SetCancel(ctx, id); err != nil {
		logger.Log.Warn().Err(err).Str("taskID", id).Msg("failed to set cancel flag")
	}

	transitioned := false
	if !t.Status.IsTerminal() {
		t.Status = task.StatusCanceled
		t.Description = "canceled by user"
		if err := o.gw.PutTask(ctx, t); err != nil {
			return apperr.Wrap("orchestrator.CancelDownload", err)
		}
		transitioned = true
	}

	if userID, err := o.gw.GetTaskUser(ctx, id); err == nil && userID != "" {
		if err := o.gw.ReleaseLock(ctx, userID, id); err != nil {
			logger.Log.Warn().Err(err).Str("taskID", id).Msg("failed to release lock on cancel")
		}
		if transitioned {
			o.recordAudit(id, userID, storage.EventCanceled, t.Request.URL, "")
		}
	}

	logger.Log.Info().Str("traceID", id).Str("phase", "canceled").Msg("cancel requested")
	return nil
}

// GetStatus returns the current status block for a task.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*task.Task, error) {
	t, err := o.gw.GetTask(ctx, id)
	if err != nil {
		return nil, apperr.NewWithMessage("orchestrator.GetStatus", apperr.ErrNotFound, "unknown task id")
	}
	return t, nil
}

// History returns up to the configured limit of a user's recent tasks,
// newest first, skipping any ids whose record has since been deleted.
func (o *Orchestrator) History(ctx context.Context, userID string) ([]*task.Task, error) {
	ids, err := o.gw.UserHistory(ctx, userID, o.historyLimit)
	if err != nil {
		return nil, apperr.Wrap("orchestrator.History", err)
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := o.gw.GetTask(ctx, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// RecoverOnStartup runs restart recovery: every
// PENDING task with a resumable request is re-enqueued; PENDING tasks
// without one are marked ERROR; terminal tasks only have their lock
// released (guarding against a crash between a terminal PutTask and its
// best-effort lock release).
func (o *Orchestrator) RecoverOnStartup(ctx context.Context) error {
	ids, err := o.gw.ScanTasks(ctx)
	if err != nil {
		return apperr.Wrap("orchestrator.RecoverOnStartup", err)
	}

	var recovered, errored int
	for _, id := range ids {
		t, err := o.gw.GetTask(ctx, id)
		if err != nil {
			continue
		}

		switch {
		case t.Status == task.StatusPending && t.CanResume():
			if err := o.gw.EnqueueTask(ctx, id); err != nil {
				logger.Log.Error().Err(err).Str("taskID", id).Msg("failed to re-enqueue task on restart")
				continue
			}
			recovered++

		case t.Status == task.StatusPending && !t.CanResume():
			t.Status = task.StatusError
			t.Description = "server restarted; task parameters lost"
			if err := o.gw.PutTask(ctx, t); err != nil {
				logger.Log.Error().Err(err).Str("taskID", id).Msg("failed to mark unresumable task errored")
			}
			errored++

		case t.Status.IsTerminal():
			if userID, err := o.gw.GetTaskUser(ctx, id); err == nil && userID != "" {
				_ = o.gw.ReleaseLock(ctx, userID, id)
			}
		}
	}

	logger.Log.Info().Int("recovered", recovered).Int("errored", errored).Msg("restart recovery complete")
	return nil
}

func (o *Orchestrator) recordAudit(taskID, userID, event, url, detail string) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(taskID, userID, event, url, "", detail); err != nil {
		logger.Log.Warn().Err(err).Str("taskID", taskID).Msg("failed to record audit event")
	}
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
