// Package kvstore is the KV Store Gateway: the single component that talks
// to Redis, giving every other package a typed, key-scheme-agnostic view of
// task records, per-user locks, the work queue, the metadata cache, and the
// progress pub/sub channel. Keeping all shared state in Redis rather than
// a per-process map is what lets workers scale horizontally.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/task"
)

// Gateway wraps a redis.Client with the key scheme and operations the
// orchestrator, worker pool, and HTTP API share. All keys are namespaced
// under a configurable prefix so multiple deployments can share a Redis
// instance.
type Gateway struct {
	rdb    *redis.Client
	prefix string
}

// New returns a Gateway keying everything under prefix.
func New(rdb *redis.Client, prefix string) *Gateway {
	return &Gateway{rdb: rdb, prefix: prefix}
}

// Ping verifies connectivity, used at startup before the server begins
// accepting requests.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}

func (g *Gateway) key(parts ...string) string {
	k := g.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (g *Gateway) taskKey(id string) string       { return g.key("task", id) }
func (g *Gateway) taskUserKey(id string) string    { return g.key("taskuser", id) }
func (g *Gateway) lockKey(userID string) string    { return g.key("lock", userID) }
func (g *Gateway) cancelKey(id string) string      { return g.key("cancel", id) }
func (g *Gateway) historyKey(userID string) string { return g.key("history", userID) }
func (g *Gateway) metaKey(urlHash string) string   { return g.key("meta", urlHash) }
func (g *Gateway) queueKey() string                { return g.key("queue") }
func (g *Gateway) eventsChannel(id string) string  { return g.key("events", id) }

// ErrNotFound is returned for a missing task or cache entry. Callers
// translate it to the orchestrator's own not-found sentinel at the package
// boundary rather than depend on the kvstore package's error identity.
var ErrNotFound = errors.New("kvstore: not found")

// PutTask writes the full task record and publishes the updated status
// block on the task's progress channel, per the invariant that every
// mutation is observable by subscribers. When the write lands a terminal
// status, the owning user's lock is released best-effort; a publish or
// release failure never masks the successful write.
func (g *Gateway) PutTask(ctx context.Context, t *task.Task) error {
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("kvstore: marshal task: %w", err)
	}
	if err := g.rdb.Set(ctx, g.taskKey(t.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: put task: %w", err)
	}
	if err := g.rdb.Publish(ctx, g.eventsChannel(t.ID), data).Err(); err != nil {
		logger.Log.Warn().Err(err).Str("taskID", t.ID).Msg("failed to publish task snapshot")
	}
	if t.Status.IsTerminal() {
		if userID, err := g.GetTaskUser(ctx, t.ID); err == nil && userID != "" {
			_ = g.ReleaseLock(ctx, userID, t.ID)
		}
	}
	return nil
}

// GetTask reads a task record. Returns ErrNotFound if the id is unknown.
func (g *Gateway) GetTask(ctx context.Context, id string) (*task.Task, error) {
	data, err := g.rdb.Get(ctx, g.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get task: %w", err)
	}
	return task.Unmarshal(data)
}

// TaskExists reports whether a task id is known, without deserializing it.
func (g *Gateway) TaskExists(ctx context.Context, id string) (bool, error) {
	n, err := g.rdb.Exists(ctx, g.taskKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: exists task: %w", err)
	}
	return n > 0, nil
}

// DeleteTask removes a task record and its user-mapping entry. It does not
// remove the id from any user's history list; history is a best-effort
// index and tolerates dangling ids.
func (g *Gateway) DeleteTask(ctx context.Context, id string) error {
	return g.rdb.Del(ctx, g.taskKey(id), g.taskUserKey(id)).Err()
}

// AppendUserTask pushes a task id onto the front of a user's history list
// and trims it to limit entries, newest first. Records displaced past the
// window are deleted best-effort; a failed delete leaves a dangling record
// a later append will try again on.
func (g *Gateway) AppendUserTask(ctx context.Context, userID, id string, limit int) error {
	if err := g.rdb.LPush(ctx, g.historyKey(userID), id).Err(); err != nil {
		return fmt.Errorf("kvstore: append user task: %w", err)
	}

	displaced, err := g.rdb.LRange(ctx, g.historyKey(userID), int64(limit), -1).Result()
	if err != nil {
		return fmt.Errorf("kvstore: append user task: %w", err)
	}
	if err := g.rdb.LTrim(ctx, g.historyKey(userID), 0, int64(limit-1)).Err(); err != nil {
		return fmt.Errorf("kvstore: append user task: %w", err)
	}
	for _, evicted := range displaced {
		if err := g.DeleteTask(ctx, evicted); err != nil {
			logger.Log.Warn().Err(err).Str("taskID", evicted).Msg("failed to delete evicted task record")
		}
	}
	return nil
}

// UserHistory returns up to limit task ids for a user, newest first.
func (g *Gateway) UserHistory(ctx context.Context, userID string, limit int) ([]string, error) {
	ids, err := g.rdb.LRange(ctx, g.historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: user history: %w", err)
	}
	return ids, nil
}

// lockReleaseScript atomically deletes the lock key only if it still holds
// the expected task id, the compare-and-delete idiom needed so a worker
// cannot release a lock a different, newer task already reacquired.
var lockReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// AcquireLock attempts to set the user's active-download lock to id,
// succeeding only if no lock currently exists. ttl bounds how long a
// crashed worker can wedge the slot.
func (g *Gateway) AcquireLock(ctx context.Context, userID, id string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.lockKey(userID), id, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the user's lock only if it still points at id
// (compare-and-delete), so a stale release from an old task can't clobber
// a newer one's lock.
func (g *Gateway) ReleaseLock(ctx context.Context, userID, id string) error {
	if err := lockReleaseScript.Run(ctx, g.rdb, []string{g.lockKey(userID)}, id).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("kvstore: release lock: %w", err)
	}
	return nil
}

// ForceReleaseLock unconditionally clears a user's lock, whatever task id
// it holds.
func (g *Gateway) ForceReleaseLock(ctx context.Context, userID string) error {
	if err := g.rdb.Del(ctx, g.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("kvstore: force release lock: %w", err)
	}
	return nil
}

// GetLockedTask returns the task id currently holding userID's lock, or
// "" if there is none.
func (g *Gateway) GetLockedTask(ctx context.Context, userID string) (string, error) {
	id, err := g.rdb.Get(ctx, g.lockKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get locked task: %w", err)
	}
	return id, nil
}

// SetTaskUser records which user owns a task, so CancelDownload can find
// the right lock to release given only a task id.
func (g *Gateway) SetTaskUser(ctx context.Context, id, userID string) error {
	if err := g.rdb.Set(ctx, g.taskUserKey(id), userID, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: set task user: %w", err)
	}
	return nil
}

// GetTaskUser returns the user that owns a task, or "" if unknown.
func (g *Gateway) GetTaskUser(ctx context.Context, id string) (string, error) {
	userID, err := g.rdb.Get(ctx, g.taskUserKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get task user: %w", err)
	}
	return userID, nil
}

// SetCancel raises the cancel flag for a task; a worker polls IsCanceled
// between progress updates.
func (g *Gateway) SetCancel(ctx context.Context, id string) error {
	if err := g.rdb.Set(ctx, g.cancelKey(id), "1", 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("kvstore: set cancel: %w", err)
	}
	return nil
}

// ClearCancel removes a task's cancel flag, run once a worker has observed
// and acted on it.
func (g *Gateway) ClearCancel(ctx context.Context, id string) error {
	if err := g.rdb.Del(ctx, g.cancelKey(id)).Err(); err != nil {
		return fmt.Errorf("kvstore: clear cancel: %w", err)
	}
	return nil
}

// IsCanceled reports whether the cancel flag is set for a task.
func (g *Gateway) IsCanceled(ctx context.Context, id string) (bool, error) {
	n, err := g.rdb.Exists(ctx, g.cancelKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: is canceled: %w", err)
	}
	return n > 0, nil
}

// GetMeta reads a cached Media snapshot for a resolved URL. Returns
// ErrNotFound on a cache miss.
func (g *Gateway) GetMeta(ctx context.Context, urlHash string) (*task.Media, error) {
	data, err := g.rdb.Get(ctx, g.metaKey(urlHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get meta: %w", err)
	}
	var media task.Media
	if err := unmarshalMedia(data, &media); err != nil {
		return nil, err
	}
	return &media, nil
}

// PutMeta caches a resolved Media snapshot for ttl.
func (g *Gateway) PutMeta(ctx context.Context, urlHash string, media task.Media, ttl time.Duration) error {
	data, err := marshalMedia(media)
	if err != nil {
		return fmt.Errorf("kvstore: marshal meta: %w", err)
	}
	if err := g.rdb.Set(ctx, g.metaKey(urlHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: put meta: %w", err)
	}
	return nil
}

// EnqueueTask pushes a task id onto the work queue for a worker to pick up.
func (g *Gateway) EnqueueTask(ctx context.Context, id string) error {
	if err := g.rdb.RPush(ctx, g.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("kvstore: enqueue task: %w", err)
	}
	return nil
}

// DequeueTask blocks up to timeout waiting for a task id to become
// available on the work queue. Returns "", nil on timeout (no error) so a
// worker loop can simply retry.
func (g *Gateway) DequeueTask(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := g.rdb.BLPop(ctx, timeout, g.queueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", nil
	}
	return result[1], nil
}

// ScanTasks returns every known task id, used once at startup for restart
// recovery.
func (g *Gateway) ScanTasks(ctx context.Context) ([]string, error) {
	var ids []string
	iter := g.rdb.Scan(ctx, 0, g.key("task", "*"), 100).Iterator()
	prefixLen := len(g.key("task", ""))
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[prefixLen:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: scan tasks: %w", err)
	}
	return ids, nil
}

// Subscribe returns a pub/sub handle for a task's progress channel. The
// caller is responsible for closing it.
func (g *Gateway) Subscribe(ctx context.Context, id string) *redis.PubSub {
	return g.rdb.Subscribe(ctx, g.eventsChannel(id))
}

func marshalMedia(media task.Media) ([]byte, error) {
	return json.Marshal(media)
}

func unmarshalMedia(data []byte, media *task.Media) error {
	if err := json.Unmarshal(data, media); err != nil {
		return fmt.Errorf("kvstore: unmarshal meta: %w", err)
	}
	return nil
}
