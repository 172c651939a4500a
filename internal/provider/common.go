package provider

import (
	"context"
	"errors"
	"os"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/mediapipeline"
	"github.com/clipreach/downorch/internal/task"
)

// ensureDir creates dir (and parents) if it doesn't already exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// removeQuiet deletes path, ignoring a missing-file error. Temporary legs
// (video/audio halves, HLS scratch files) are best-effort cleanup.
func removeQuiet(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// classifyDownloadErr maps a transfer error into the taxonomy the worker
// expects: context.Canceled becomes ErrCanceled, everything else becomes
// ErrProviderFailure.
func classifyDownloadErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return apperr.ErrCanceled
	}
	return apperr.WrapWithMessage("provider.Download", apperr.ErrProviderFailure, err.Error())
}

// applyClipIfNeeded runs the media pipeline's Clip operation in place when
// the request carries start/end bounds, replacing path with the clipped
// output. Requests with no clip bounds are a no-op.
func applyClipIfNeeded(ctx context.Context, pipeline *mediapipeline.Pipeline, path string, req task.Request) (string, error) {
	if !req.IsClip() {
		return path, nil
	}
	clippedPath := path + ".clip.mp4"
	if err := pipeline.Clip(ctx, path, clippedPath, req.StartSeconds, req.EndSeconds); err != nil {
		return "", apperr.WrapWithMessage("provider.applyClipIfNeeded", apperr.ErrPipelineFailure, err.Error())
	}
	removeQuiet(path)
	if err := os.Rename(clippedPath, path); err != nil {
		return "", apperr.Wrap("provider.applyClipIfNeeded", err)
	}
	return path, nil
}

// progressAdapter turns the adapter-facing ProgressFunc into the stream
// helper's callback shape (they are currently identical, but this keeps
// the two call sites decoupled if one gains an argument the other
// shouldn't see).
func progressAdapter(f ProgressFunc) ProgressFunc { return f }

// halfProgress scales a ProgressFunc to report only half the overall
// percentage range, used when a provider fetches two legs (video, audio)
// sequentially and wants the combined progress to read 0-100 smoothly
// rather than resetting to 0 at the halfway point. leg is 0 for the first
// half, 1 for the second.
func halfProgress(f ProgressFunc, leg int) ProgressFunc {
	if f == nil {
		return nil
	}
	return func(percent, speedBPS float64, etaSeconds int) {
		scaled := percent/2 + float64(leg)*50
		f(scaled, speedBPS, etaSeconds)
	}
}
