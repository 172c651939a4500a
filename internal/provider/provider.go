// Package provider implements the provider-agnostic adapter contract:
// resolving a URL's available media variants and downloading the chosen
// one. A Registry selects an adapter by the first matching URL substring,
// so each provider owns its own scraping and transfer logic behind one
// small interface.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/mediapipeline"
	"github.com/clipreach/downorch/internal/task"
)

// Adapter is the contract a provider must satisfy: resolve a URL's
// available variants, then perform the actual byte transfer for a chosen
// variant. Download observes the task's cancel flag; ResolveFormats
// observes only ctx.
type Adapter interface {
	// Name identifies the provider for logging and audit events.
	Name() string

	// ResolveFormats produces the media snapshot for url: title, author,
	// duration, preview, and selectable variants.
	ResolveFormats(ctx context.Context, url string) (task.Media, error)

	// Download performs the transfer for taskID, writing the final file
	// under downloadRoot and reporting progress via onProgress. It must
	// check isCanceled at every progress update and abort with
	// context.Canceled when it reports true.
	Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (filePath string, err error)
}

// ProgressFunc receives incremental progress: percent in [0,100], the
// current transfer speed in bytes/sec, and an ETA in seconds (0 if
// unknown).
type ProgressFunc func(percent float64, speedBPS float64, etaSeconds int)

// CancelFunc reports whether the owning task's cancel flag has been
// observed; adapters poll it at every chunk boundary.
type CancelFunc func() bool

// Registry holds adapters keyed by the URL substring that selects them,
// in registration order. The first match wins.
type Registry struct {
	entries []registryEntry
}

type registryEntry struct {
	substring string
	adapter   Adapter
}

// NewRegistry returns an empty registry. Register adapters with Register.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an adapter selected by any URL containing substring.
// Registration order is priority order.
func (r *Registry) Register(substring string, adapter Adapter) {
	r.entries = append(r.entries, registryEntry{substring: substring, adapter: adapter})
}

// Lookup returns the first adapter whose substring appears in url, or
// (nil, false) if none match.
func (r *Registry) Lookup(url string) (Adapter, bool) {
	lower := strings.ToLower(url)
	for _, e := range r.entries {
		if strings.Contains(lower, e.substring) {
			return e.adapter, true
		}
	}
	return nil, false
}

// Deps bundles the collaborators every adapter needs: an HTTP client for
// scraping and byte transfer, the media pipeline for mux/clip/HLS
// operations, and provider credentials threaded in from config.
type Deps struct {
	HTTPClient     *http.Client
	Pipeline       *mediapipeline.Pipeline
	VKSessionToken string
	InstagramSID   string
}

// DefaultHTTPClient returns the http.Client every adapter shares unless a
// test substitutes its own. The timeout bounds a whole request, so it is
// sized for long-running byte transfers, not metadata fetches.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 6 * time.Hour}
}

// speedEstimator computes an exponentially-weighted moving average of
// transfer speed from samples of a running byte counter.
type speedEstimator struct {
	lastSample  time.Time
	lastBytes   int64
	ewmaBPS     float64
	initialized bool
}

func newSpeedEstimator() *speedEstimator {
	return &speedEstimator{lastSample: time.Now()}
}

// Sample feeds a new cumulative byte count and returns the current EWMA
// speed estimate in bytes/sec. alpha=0.3 smooths over several samples
// without lagging too far behind bursty network conditions.
func (s *speedEstimator) Sample(totalBytes int64) float64 {
	now := time.Now()
	elapsed := now.Sub(s.lastSample).Seconds()
	if elapsed <= 0 {
		return s.ewmaBPS
	}
	instBPS := float64(totalBytes-s.lastBytes) / elapsed
	if !s.initialized {
		s.ewmaBPS = instBPS
		s.initialized = true
	} else {
		const alpha = 0.3
		s.ewmaBPS = alpha*instBPS + (1-alpha)*s.ewmaBPS
	}
	s.lastSample = now
	s.lastBytes = totalBytes
	return s.ewmaBPS
}

// ETASeconds estimates remaining time given total size and bytes done, 0
// when the speed estimate or total size is unknown.
func ETASeconds(speedBPS float64, bytesDone, totalBytes int64) int {
	if speedBPS <= 0 || totalBytes <= 0 || bytesDone >= totalBytes {
		return 0
	}
	remaining := float64(totalBytes-bytesDone) / speedBPS
	return int(remaining)
}

// cancelFuncFromGateway adapts the KV store's cancel flag into the
// adapter-facing CancelFunc, the shape every Download implementation
// accepts so adapters never import kvstore directly for anything beyond
// this one check. ctx carries request-scoped cancellation; errors reading
// the flag are treated as "not canceled" so a transient store hiccup
// cannot abort a healthy transfer.
func cancelFuncFromGateway(ctx context.Context, gw *kvstore.Gateway, taskID string) CancelFunc {
	return func() bool {
		canceled, err := gw.IsCanceled(ctx, taskID)
		if err != nil {
			return false
		}
		return canceled
	}
}

// CancelFuncFromGateway exposes cancelFuncFromGateway to the worker
// package, which owns the Gateway handle adapters are not given directly.
func CancelFuncFromGateway(ctx context.Context, gw *kvstore.Gateway, taskID string) CancelFunc {
	return cancelFuncFromGateway(ctx, gw, taskID)
}
