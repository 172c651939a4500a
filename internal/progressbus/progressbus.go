// Package progressbus fans task progress out to live subscribers: a thin
// wrapper over the KV Store Gateway's pub/sub channel that gives the HTTP
// API a single subscribe call returning an initial snapshot followed by a
// live tail, closing the moment the task reaches a terminal status. It
// rides on Redis pub/sub rather than an in-process event bus so the
// process serving an SSE connection need not be the one running the
// worker pool.
package progressbus

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/task"
)

// Subscribe fetches the task's current state
// as the first value delivered on the returned channel, then forwards
// every subsequent publish until the task reaches a terminal status, the
// subscription errors, or ctx is canceled. The returned cancel func must
// be called to release the underlying Redis subscription; it is also
// safe to let ctx cancellation do it, but an explicit call avoids
// leaking the goroutine early if the caller stops reading mid-stream.
func Subscribe(ctx context.Context, gw *kvstore.Gateway, taskID string) (<-chan task.Snapshot, func(), error) {
	initial, err := gw.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	sub := gw.Subscribe(ctx, taskID)
	streamCtx, cancel := context.WithCancel(ctx)

	out := make(chan task.Snapshot, 8)

	release := func() {
		cancel()
		_ = sub.Close()
	}

	go func() {
		defer close(out)

		select {
		case out <- initial.Snapshot():
		case <-streamCtx.Done():
			return
		}
		if initial.Status.IsTerminal() {
			return
		}

		ch := sub.Channel()
		for {
			select {
			case <-streamCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				snap, terminal, ok := decodeAndCheck(msg)
				if !ok {
					continue
				}
				select {
				case out <- snap:
				case <-streamCtx.Done():
					return
				}
				if terminal {
					return
				}
			}
		}
	}()

	return out, release, nil
}

func decodeAndCheck(msg *redis.Message) (task.Snapshot, bool, bool) {
	t, err := task.Unmarshal([]byte(msg.Payload))
	if err != nil {
		logger.Log.Warn().Err(err).Msg("progressbus: failed to decode published task")
		return task.Snapshot{}, false, false
	}
	return t.Snapshot(), t.Status.IsTerminal(), true
}
